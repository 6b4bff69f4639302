package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cuemby/dynadns/pkg/client"
	"github.com/cuemby/dynadns/pkg/config"
	"github.com/spf13/cobra"
)

func init() {
	statesCmd.Flags().String("api", config.DefaultAPIAddr, "HTTP API address of the running daemon")
	statesCmd.Flags().String("service-type", "", "Only show endpoints of this service type")
	statesCmd.Flags().Bool("down", false, "Only show endpoints that are down")
	statesCmd.Flags().Bool("ready", false, "Print daemon readiness instead of endpoint states")
	statesCmd.Flags().String("grpc", "", "Ask the gRPC health service at this address for one endpoint instead")

	adminStateCmd.PersistentFlags().String("api", config.DefaultAPIAddr, "HTTP API address of the running daemon")
	adminStateSetCmd.Flags().String("reason", "", "Free-form note stored with the override")

	adminStateCmd.AddCommand(adminStateSetCmd)
	adminStateCmd.AddCommand(adminStateClearCmd)
	adminStateCmd.AddCommand(adminStateListCmd)

	rootCmd.AddCommand(statesCmd)
	rootCmd.AddCommand(adminStateCmd)
}

var statesCmd = &cobra.Command{
	Use:   "states [endpoint]",
	Short: "Show the health of monitored endpoints",
	Long: `Show the current state of every monitored endpoint as seen by a
running daemon.

Examples:
  # All endpoints
  dynadns states

  # Endpoints of one service type that are down
  dynadns states --service-type web --down

  # One endpoint through the gRPC health service
  dynadns states --grpc 127.0.0.1:3507 web/192.0.2.10`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if grpcAddr, _ := cmd.Flags().GetString("grpc"); grpcAddr != "" {
			service := ""
			if len(args) == 1 {
				service = args[0]
			}
			return checkGRPC(ctx, grpcAddr, service)
		}

		apiAddr, _ := cmd.Flags().GetString("api")
		c := client.NewClient(apiAddr)

		if ready, _ := cmd.Flags().GetBool("ready"); ready {
			resp, err := c.Ready(ctx)
			if err != nil {
				return err
			}
			fmt.Println(resp.Status)
			for name, detail := range resp.Checks {
				fmt.Printf("  %s: %s\n", name, detail)
			}
			if resp.Status != "ready" {
				return errNotReady
			}
			return nil
		}

		st, _ := cmd.Flags().GetString("service-type")
		onlyDown, _ := cmd.Flags().GetBool("down")
		snaps, err := c.States(ctx, st, onlyDown)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ENDPOINT\tSERVICE TYPE\tSTATE\tREAL STATE\tSTREAK")
		for _, s := range snaps {
			if len(args) == 1 && s.Desc != args[0] {
				continue
			}
			realState := "-"
			if s.Forced {
				realState = s.RealState
			}
			streak := fmt.Sprintf("+%d", s.SuccessStreak)
			if !s.LastOK {
				streak = fmt.Sprintf("-%d", s.FailureStreak)
			}
			if !s.Checked {
				streak = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Desc, s.ServiceType, s.State, realState, streak)
		}
		return w.Flush()
	},
}

func checkGRPC(ctx context.Context, addr, service string) error {
	hc, err := client.NewHealthClient(addr, nil)
	if err != nil {
		return err
	}
	defer hc.Close()

	serving, err := hc.Check(ctx, service)
	if err != nil {
		return err
	}
	name := service
	if name == "" {
		name = "dynadns"
	}
	if serving {
		fmt.Printf("%s: SERVING\n", name)
		return nil
	}
	fmt.Printf("%s: NOT_SERVING\n", name)
	return errNotReady
}

var adminStateCmd = &cobra.Command{
	Use:   "admin-state",
	Short: "Force endpoint states",
	Long: `Administrative overrides pin an endpoint UP or DOWN regardless of its
health checks. Overrides are persisted by the daemon and survive restarts.`,
}

var adminStateSetCmd = &cobra.Command{
	Use:   "set <endpoint> <UP|DOWN>[/ttl]",
	Short: "Force an endpoint state",
	Long: `Force an endpoint state.

Examples:
  # Drain a server
  dynadns admin-state set web/192.0.2.10 DOWN --reason "kernel upgrade"

  # Keep a server in rotation with a short TTL
  dynadns admin-state set web/192.0.2.11 UP/30`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		apiAddr, _ := cmd.Flags().GetString("api")
		reason, _ := cmd.Flags().GetString("reason")

		st, err := client.NewClient(apiAddr).SetAdminState(cmd.Context(), args[0], strings.ToUpper(args[1]), reason)
		if err != nil {
			return fmt.Errorf("failed to set admin state: %w", err)
		}
		fmt.Printf("✓ %s forced %s\n", st.Desc, st.State)
		return nil
	},
}

var adminStateClearCmd = &cobra.Command{
	Use:   "clear <endpoint>",
	Short: "Remove a forced state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		apiAddr, _ := cmd.Flags().GetString("api")
		if err := client.NewClient(apiAddr).ClearAdminState(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to clear admin state: %w", err)
		}
		fmt.Printf("✓ %s follows its health checks again\n", args[0])
		return nil
	},
}

var adminStateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List forced states",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		apiAddr, _ := cmd.Flags().GetString("api")
		list, err := client.NewClient(apiAddr).AdminStates(cmd.Context())
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No forced states")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ENDPOINT\tSTATE\tSINCE\tREASON")
		for _, st := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", st.Desc, st.State, st.SetAt.Format(time.RFC3339), st.Reason)
		}
		return w.Flush()
	},
}
