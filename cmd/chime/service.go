package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/flemzord/chime/pkg/app"
)

// stopTimeout bounds how long the service manager waits for the daemon
// to drain before the stop is reported as failed.
const stopTimeout = 30 * time.Second

// program adapts app.Run to the service manager's start/stop protocol.
// Start must return immediately, so the run loop lives in a goroutine
// and Stop closes the shutdown channel the loop selects on.
type program struct {
	params app.RunParams

	stop chan struct{}
	done chan error
}

func (p *program) Start(_ service.Service) error {
	p.stop = make(chan struct{})
	p.done = make(chan error, 1)
	p.params.Shutdown = p.stop
	go func() {
		p.done <- app.Run(p.params)
	}()
	return nil
}

func (p *program) Stop(_ service.Service) error {
	close(p.stop)
	select {
	case err := <-p.done:
		return err
	case <-time.After(stopTimeout):
		return errors.New("timed out waiting for shutdown")
	}
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Run chime under the system service manager",
	}

	var cfgPath string
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to configuration file")

	// newService builds the platform service handle. The installed unit
	// re-invokes this binary as "chime service run", carrying the config
	// path chosen at install time.
	newService := func() (service.Service, error) {
		args := []string{"service", "run"}
		if cfgPath != "" {
			args = append(args, "--config", cfgPath)
		}
		prg := &program{params: app.RunParams{
			ConfigPath: cfgPath,
			Version:    version,
			Commit:     commit,
			Date:       date,
		}}
		return service.New(prg, &service.Config{
			Name:        "chime",
			DisplayName: "Chime",
			Description: "OAuth credential lifecycle and cron reminder daemon",
			Arguments:   args,
		})
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "install",
			Short: "Register chime with the system service manager",
			RunE: func(_ *cobra.Command, _ []string) error {
				svc, err := newService()
				if err != nil {
					return err
				}
				if err := svc.Install(); err != nil {
					return fmt.Errorf("installing service: %w", err)
				}
				fmt.Printf("Installed %s (%s)\n", svc.String(), svc.Platform())
				return nil
			},
		},
		&cobra.Command{
			Use:   "uninstall",
			Short: "Remove chime from the system service manager",
			RunE: func(_ *cobra.Command, _ []string) error {
				svc, err := newService()
				if err != nil {
					return err
				}
				if err := svc.Uninstall(); err != nil {
					return fmt.Errorf("uninstalling service: %w", err)
				}
				fmt.Println("Service removed.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "start",
			Short: "Start the installed service",
			RunE: func(_ *cobra.Command, _ []string) error {
				svc, err := newService()
				if err != nil {
					return err
				}
				if err := svc.Start(); err != nil {
					return fmt.Errorf("starting service: %w", err)
				}
				fmt.Println("Service started.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop the installed service",
			RunE: func(_ *cobra.Command, _ []string) error {
				svc, err := newService()
				if err != nil {
					return err
				}
				if err := svc.Stop(); err != nil {
					return fmt.Errorf("stopping service: %w", err)
				}
				fmt.Println("Service stopped.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "restart",
			Short: "Restart the installed service",
			RunE: func(_ *cobra.Command, _ []string) error {
				svc, err := newService()
				if err != nil {
					return err
				}
				if err := svc.Restart(); err != nil {
					return fmt.Errorf("restarting service: %w", err)
				}
				fmt.Println("Service restarted.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Report the installed service's status",
			RunE: func(_ *cobra.Command, _ []string) error {
				svc, err := newService()
				if err != nil {
					return err
				}
				status, err := svc.Status()
				if err != nil {
					if errors.Is(err, service.ErrNotInstalled) {
						fmt.Println("not installed")
						return nil
					}
					return err
				}
				fmt.Println(statusString(status))
				return nil
			},
		},
		&cobra.Command{
			Use:    "run",
			Short:  "Run in the foreground under service supervision",
			Hidden: true,
			RunE: func(_ *cobra.Command, _ []string) error {
				svc, err := newService()
				if err != nil {
					return err
				}
				return svc.Run()
			},
		},
	)
	return cmd
}

func statusString(s service.Status) string {
	switch s {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
