package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nstut/lilyvoice-go/pkg/lilyvoice"
)

var (
	verbose  bool
	endpoint string
	clientID string
	dataDir  string
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "lilyvoice",
		Short: "LilyVoice client CLI",
		Long:  "A command-line client for the LilyVoice real-time conversation backend",
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "WebSocket endpoint URL")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "", "Client ID for registration")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Settings and history directory")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(devicesCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		lilyvoice.GetGlobalLogger().WithError(err).Fatal("CLI execution failed")
	}
}

func buildConfig() *lilyvoice.Config {
	config := lilyvoice.NewConfig()
	if endpoint != "" {
		config.Endpoint = endpoint
	}
	if clientID != "" {
		config.ClientID = clientID
	}
	config.Debug = verbose
	return config
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect, capture the microphone and play backend audio",
		Long:  "Connect to the backend, stream microphone audio while registered, and play received clips until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := buildConfig()
			if issues := config.Validate(); len(issues) > 0 {
				for _, issue := range issues {
					fmt.Fprintln(os.Stderr, "config:", issue)
				}
				return fmt.Errorf("invalid configuration")
			}

			client, err := lilyvoice.NewClient(config, nil, dataDir)
			if err != nil {
				return err
			}

			client.OnMessage(lilyvoice.NewLoggingMessageHandler(nil))
			client.OnMessage(lilyvoice.NewChatRecorder(client.Store(), nil))
			client.OnStatus(lilyvoice.NewStatusLogHandler(client.Store(), nil))
			client.OnStatus(func(st lilyvoice.Status) {
				fmt.Printf("status: connected=%t registered=%t\n", st.Connected, st.Registered)
			})

			if err := client.Connect(); err != nil {
				return err
			}
			defer client.Disconnect()

			if client.WaitRegistered(15 * time.Second) {
				if err := client.StartCapture(); err != nil {
					fmt.Fprintln(os.Stderr, "capture:", err)
				} else {
					fmt.Println("Capturing... press Ctrl-C to stop")
				}
			} else {
				fmt.Println("Not registered yet; staying connected, audio gated off")
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig

			fmt.Println("Shutting down")
			return nil
		},
	}
}

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			dm := lilyvoice.NewDeviceManager(nil)
			if err := dm.Initialize(); err != nil {
				return err
			}
			defer dm.Cleanup()

			fmt.Println("Input devices:")
			for _, dev := range dm.InputDevices() {
				printDevice(dev)
			}
			fmt.Println("Output devices:")
			for _, dev := range dm.OutputDevices() {
				printDevice(dev)
			}
			return nil
		},
	}
}

func printDevice(dev lilyvoice.AudioDevice) {
	marker := " "
	if dev.IsDefault {
		marker = "*"
	}
	fmt.Printf("  %s [%d] %s (%s, %.0f Hz, in:%d out:%d)\n",
		marker, dev.ID, dev.Name, dev.HostAPI, dev.DefaultSampleRate,
		dev.MaxInputChannels, dev.MaxOutputChannels)
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := buildConfig()
			audio := lilyvoice.NewAudioConfig()

			fmt.Println("LilyVoice configuration")
			fmt.Println("=======================")
			fmt.Printf("Endpoint: %s\n", config.Endpoint)
			fmt.Printf("Client ID: %s\n", config.ClientID)
			fmt.Printf("Heartbeat Interval: %s\n", config.HeartbeatInterval)
			fmt.Printf("Reconnect Delay: %s\n", config.ReconnectDelay)
			fmt.Printf("Registration Retry: %s (max %d attempts)\n",
				config.RegistrationRetryInterval, config.RegistrationMaxAttempts)
			fmt.Printf("Sample Rate: %d Hz\n", audio.SampleRate)
			fmt.Printf("Chunk Interval: %s\n", audio.ChunkInterval)
			fmt.Printf("Connectivity Check: %s\n", audio.ConnectivityCheckInterval)
			fmt.Printf("Activity Threshold: %.3f (hold %s)\n",
				audio.ActivityThreshold, audio.ActivityHold)
			if audio.InputDeviceID != nil {
				fmt.Printf("Input Device ID: %d\n", *audio.InputDeviceID)
			} else {
				fmt.Println("Input Device: default")
			}

			for _, issue := range config.Validate() {
				fmt.Printf("issue: %s\n", issue)
			}
			for _, issue := range audio.Validate() {
				fmt.Printf("issue: %s\n", issue)
			}
			return nil
		},
	}
}
