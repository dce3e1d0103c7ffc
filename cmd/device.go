package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"example.com/backstage/services/telemetry/config"
	"example.com/backstage/services/telemetry/internal/database"
	"example.com/backstage/services/telemetry/internal/directory"
	"example.com/backstage/services/telemetry/internal/models"
	"example.com/backstage/services/telemetry/internal/repository"
	"example.com/backstage/services/telemetry/internal/service"

	"github.com/spf13/cobra"
)

var (
	deviceName     string
	deviceLocation string
	deviceStatus   string
)

// deviceCmd represents the device command
var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage registered devices",
	Long:  `Register and list the devices allowed to report telemetry.`,
}

// registerDeviceCmd represents the device register command
var registerDeviceCmd = &cobra.Command{
	Use:   "register [device_id]",
	Short: "Register a new device",
	Long: `Register a new device and print its credential. The credential is only
displayed once.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withDeviceService(func(svc service.DeviceService) error {
			device := &models.Device{
				DeviceID: args[0],
				Name:     deviceName,
				Location: deviceLocation,
				Status:   models.DeviceStatus(deviceStatus),
			}
			key, err := svc.RegisterDevice(context.Background(), device)
			if err != nil {
				return fmt.Errorf("failed to register device: %w", err)
			}
			printRegistration(cmd.OutOrStdout(), device, key)
			return nil
		})
	},
}

// listDevicesCmd represents the device list command
var listDevicesCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered devices",
	Run: func(cmd *cobra.Command, args []string) {
		withDeviceService(func(svc service.DeviceService) error {
			devices, err := svc.ListDevices(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list devices: %w", err)
			}
			printDevices(cmd.OutOrStdout(), devices)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(deviceCmd)
	deviceCmd.AddCommand(registerDeviceCmd)
	deviceCmd.AddCommand(listDevicesCmd)

	registerDeviceCmd.Flags().StringVarP(&deviceName, "name", "n", "", "Display name for the device (required)")
	registerDeviceCmd.Flags().StringVarP(&deviceLocation, "location", "l", "", "Installation location")
	registerDeviceCmd.Flags().StringVarP(&deviceStatus, "status", "s", "", "Initial status (online, offline, unknown)")
	registerDeviceCmd.MarkFlagRequired("name")
}

// withDeviceService connects to the database and runs fn against a device
// service that reads the database directly.
func withDeviceService(fn func(svc service.DeviceService) error) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := connectDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer closeDatabase(db)

	if err := database.AutoMigrate(db, false); err != nil {
		log.Errorf("Failed to run database migrations: %v", err)
		return
	}

	repo := repository.NewDeviceRepository(db)
	dir, err := directory.New(directory.Config{Repository: repo, Logger: log})
	if err != nil {
		log.Errorf("%v", err)
		return
	}
	svc, err := service.NewDeviceService(repo, dir, log)
	if err != nil {
		log.Errorf("%v", err)
		return
	}

	if err := fn(svc); err != nil {
		log.Errorf("%v", err)
	}
}

func printRegistration(w io.Writer, device *models.Device, key string) {
	fmt.Fprintln(w, "=================================================================")
	fmt.Fprintln(w, "Device registered successfully!")
	fmt.Fprintln(w, "=================================================================")
	fmt.Fprintf(w, "Device ID: %s\n", device.DeviceID)
	fmt.Fprintf(w, "Name: %s\n", device.Name)
	fmt.Fprintf(w, "Status: %s\n", device.Status)
	if device.Location != "" {
		fmt.Fprintf(w, "Location: %s\n", device.Location)
	}
	fmt.Fprintln(w, "-----------------------------------------------------------------")
	fmt.Fprintf(w, "API Key: %s\n", key)
	fmt.Fprintln(w, "-----------------------------------------------------------------")
	fmt.Fprintln(w, "IMPORTANT: Store this key securely. It won't be displayed again.")
	fmt.Fprintln(w, "=================================================================")
}

func printDevices(w io.Writer, devices []*models.Device) {
	fmt.Fprintln(w, "=================================================================")
	fmt.Fprintf(w, "Total Devices: %d\n", len(devices))
	fmt.Fprintln(w, "=================================================================")
	for _, d := range devices {
		fmt.Fprintf(w, "Device ID: %s\n", d.DeviceID)
		fmt.Fprintf(w, "Name: %s\n", d.Name)
		fmt.Fprintf(w, "Status: %s\n", d.Status)
		if d.Location != "" {
			fmt.Fprintf(w, "Location: %s\n", d.Location)
		}
		fmt.Fprintf(w, "Registered: %s\n", d.CreatedAt.Format(time.RFC3339))
		fmt.Fprintln(w, "-----------------------------------------------------------------")
	}
}
