package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	statusOutput  string
	statusPidFile string
	statusAPIPort int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine status",
	Long: `Display the current status of the fleetflowd engine.

This command checks the engine by calling the status API's health endpoint
and reports whether it's running, healthy, and which queues it's servicing.

Examples:
  # Check status (uses default settings)
  fleetflowd status

  # Check status with a custom API port
  fleetflowd status --api-port 9080

  # Output as JSON
  fleetflowd status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/fleetflow/fleetflowd.pid)")
	statusCmd.Flags().IntVar(&statusAPIPort, "api-port", 8080, "Status API port")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json)")
}

// engineStatus reports the observed state of a running fleetflowd process.
type engineStatus struct {
	Running bool     `json:"running"`
	PID     int      `json:"pid,omitempty"`
	Healthy bool     `json:"healthy"`
	Workers []string `json:"workers,omitempty"`
	Message string   `json:"message"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	status := engineStatus{Message: "engine is not running"}

	pidPath := statusPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	if pidData, err := os.ReadFile(pidPath); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(pidData))); err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					status.Running = true
					status.PID = pid
				}
			}
		}
	}

	healthURL := fmt.Sprintf("http://localhost:%d/healthz", statusAPIPort)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(healthURL)
	if err == nil {
		defer func() { _ = resp.Body.Close() }()

		var body struct {
			Status  string   `json:"status"`
			Workers []string `json:"workers"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
			status.Running = true
			status.Healthy = body.Status == "ok"
			status.Workers = body.Workers
			status.Message = "engine is running and healthy"
		} else {
			status.Running = true
			status.Message = "engine is running but the health response could not be parsed"
		}
	} else if status.Running {
		status.Message = "engine process exists but the health check failed"
	}

	switch statusOutput {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	default:
		printStatusTable(status)
		return nil
	}
}

func printStatusTable(status engineStatus) {
	fmt.Println()
	fmt.Println("FleetFlow Engine Status")
	fmt.Println("=======================")
	fmt.Println()

	if status.Running {
		if status.Healthy {
			fmt.Printf("  Status:     \033[32m● Running\033[0m\n")
		} else {
			fmt.Printf("  Status:     \033[33m● Running (unhealthy)\033[0m\n")
		}
		if status.PID != 0 {
			fmt.Printf("  PID:        %d\n", status.PID)
		}
		if len(status.Workers) > 0 {
			fmt.Printf("  Queues:     %s\n", strings.Join(status.Workers, ", "))
		}
	} else {
		fmt.Printf("  Status:     \033[31m○ Stopped\033[0m\n")
	}

	fmt.Println()
	fmt.Printf("  %s\n", status.Message)
	fmt.Println()
}
