package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteOpenPolicy(t *testing.T) {
	router, err := NewRouter("", nil)
	require.NoError(t, err)

	tests := map[string]string{
		"temperature":     "temperature-events",
		"network":         "network-events",
		" Solar Output ":  "solar-output-events",
		"grid.frequency":  "grid-frequency-events",
		"inverter/status": "inverter-status-events",
		"batt_soc":        "batt_soc-events",
	}
	for classifier, want := range tests {
		got, err := router.Stream(classifier)
		require.NoError(t, err, classifier)
		assert.Equal(t, want, got)
	}
}

func TestRouteIsDeterministic(t *testing.T) {
	router, err := NewRouter("prod-", nil)
	require.NoError(t, err)

	ev := EnrichedEvent{ValidatedEvent: ValidatedEvent{Classifier: "temperature"}}
	first, err := router.Route(ev)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		got, err := router.Route(ev)
		require.NoError(t, err)
		assert.Equal(t, first, got)
	}
	assert.Equal(t, "prod-temperature-events", first)
}

func TestRouteRejectsUnusableClassifiers(t *testing.T) {
	router, err := NewRouter("", nil)
	require.NoError(t, err)

	for _, classifier := range []string{"", "   ", "-leading", "sémaphore", "a*b", "x,y"} {
		_, err := router.Stream(classifier)
		assert.ErrorIs(t, err, ErrUnroutable, "classifier %q", classifier)
	}
}

func TestRouteClosedPolicy(t *testing.T) {
	router, err := NewRouter("", []string{"network", "File"})
	require.NoError(t, err)

	stream, err := router.Stream("file")
	require.NoError(t, err)
	assert.Equal(t, "file-events", stream)

	_, err = router.Stream("process")
	assert.ErrorIs(t, err, ErrUnroutable)
}

func TestNewRouterValidatesConfiguration(t *testing.T) {
	_, err := NewRouter("Prod/", nil)
	assert.Error(t, err)

	_, err = NewRouter("", []string{"ok", "not ok!"})
	assert.Error(t, err)
}
