package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"orderline/internal/app"
	"orderline/internal/config"
	"orderline/internal/coordinator"
	"orderline/internal/domain"
	"orderline/internal/server"
	"orderline/internal/store/sqlitestore"
	"orderline/internal/view"
)

var rootCmd = &cobra.Command{
	Use:   "odl",
	Short: "Orderline CLI",
	Long: `Orderline keeps a local order book in sync with an upstream sales system.
Orders live in a shared versionless document store; every change re-reads the
whole collection, splices the edit in, and writes the whole collection back.
Duplicates are resolved at read time (manual > edited > status-changed >
latest), never rewritten in the store. 'odl sync' pulls missing orders from
upstream and never deletes anything locally.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ORDERLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(inventoryCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func orderCmd() *cobra.Command {
	order := &cobra.Command{
		Use:   "order",
		Short: "Manage orders",
		Long:  "Orders flow through two state machines: validation (pending -> validated, with blocked/canceled/deleted exits) and activation (study -> to_process -> in_progress -> installed -> billed). Deletion is a soft state and is always reversible with 'odl order restore'.",
	}
	order.AddCommand(orderListCmd())
	order.AddCommand(orderShowCmd())
	order.AddCommand(orderCreateCmd())
	order.AddCommand(orderUpdateCmd())
	order.AddCommand(orderDeleteCmd())
	order.AddCommand(orderRestoreCmd())
	return order
}

func orderListCmd() *cobra.Command {
	var validation, activation, from, to, query string
	var includeDeleted bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders (resolved view)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				resolved, err := a.Coordinator.Refresh(ctx)
				if err != nil {
					return err
				}
				f := view.Filter{
					ValidationStates: splitCSV(validation),
					ActivationStates: splitCSV(activation),
					Query:            query,
					IncludeDeleted:   includeDeleted,
				}
				if from != "" {
					t, err := time.Parse(time.RFC3339, from)
					if err != nil {
						return fmt.Errorf("invalid --from: %w", err)
					}
					f.From = t
				}
				if to != "" {
					t, err := time.Parse(time.RFC3339, to)
					if err != nil {
						return fmt.Errorf("invalid --to: %w", err)
					}
					f.To = t
				}
				orders := view.Apply(resolved, f)
				if viper.GetBool("json") {
					return printJSON(orders)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Ref", "Company", "Validation", "Activation", "Created"})
				for _, o := range orders {
					tw.AppendRow(table.Row{shortID(o.ID), o.ContractRef, o.Company, o.ValidationState, o.ActivationState, o.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&validation, "validation", "", "validation state filter (comma-separated)")
	cmd.Flags().StringVar(&activation, "activation", "", "activation state filter (comma-separated)")
	cmd.Flags().StringVar(&from, "from", "", "created after (RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "created before (RFC3339)")
	cmd.Flags().StringVar(&query, "q", "", "free-text filter")
	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "include soft-deleted orders")
	return cmd
}

func orderShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				resolved, err := a.Coordinator.Refresh(ctx)
				if err != nil {
					return err
				}
				for _, o := range resolved {
					if o.ID == args[0] {
						return printJSONOrTable(o)
					}
				}
				return coordinator.ErrNotFound
			})
		},
	}
	return cmd
}

func orderCreateCmd() *cobra.Command {
	var opts coordinator.CreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a manual order",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				o, err := a.Coordinator.Create(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Company, "company", "", "company name")
	cmd.Flags().StringVar(&opts.ContactName, "contact", "", "contact name")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&opts.Address, "address", "", "street address")
	cmd.Flags().StringVar(&opts.City, "city", "", "city")
	cmd.Flags().StringVar(&opts.PostalCode, "postal-code", "", "postal code")
	cmd.Flags().StringVar(&opts.ContractRef, "ref", "", "contract reference")
	cmd.Flags().StringVar(&opts.Product, "product", "", "product name")
	cmd.Flags().StringVar(&opts.SerialNumber, "serial", "", "serial number")
	cmd.Flags().StringVar(&opts.AgentID, "agent-id", "", "assigned agent id")
	cmd.Flags().StringVar(&opts.AgentName, "agent-name", "", "assigned agent name")
	cmd.Flags().BoolVar(&opts.PhoneConfirmed, "phone-confirmed", false, "phone number confirmed")
	_ = cmd.MarkFlagRequired("company")
	_ = cmd.MarkFlagRequired("agent-id")
	return cmd
}

func orderUpdateCmd() *cobra.Command {
	var company, contact, phone, address, city, postalCode, ref, product, serial, agentID, agentName string
	var validationState, validationReason, activationState, activationReason, verifiedSerial string
	var phoneConfirmed bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := coordinator.UpdateOptions{
				ID:               args[0],
				ActorID:          viper.GetString("actor-id"),
				ValidationReason: validationReason,
				ActivationReason: activationReason,
			}
			set := func(name string, dst **string, src *string) {
				if cmd.Flags().Changed(name) {
					*dst = src
				}
			}
			set("company", &opts.Company, &company)
			set("contact", &opts.ContactName, &contact)
			set("phone", &opts.Phone, &phone)
			set("address", &opts.Address, &address)
			set("city", &opts.City, &city)
			set("postal-code", &opts.PostalCode, &postalCode)
			set("ref", &opts.ContractRef, &ref)
			set("product", &opts.Product, &product)
			set("serial", &opts.SerialNumber, &serial)
			set("agent-id", &opts.AgentID, &agentID)
			set("agent-name", &opts.AgentName, &agentName)
			set("validation", &opts.ValidationState, &validationState)
			set("activation", &opts.ActivationState, &activationState)
			set("verified-serial", &opts.VerifiedSerial, &verifiedSerial)
			if cmd.Flags().Changed("phone-confirmed") {
				opts.PhoneConfirmed = &phoneConfirmed
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Coordinator.Update(ctx, opts)
				if err != nil {
					return err
				}
				if res.Warning != "" {
					fmt.Fprintln(os.Stderr, "warning:", res.Warning)
				}
				return printJSONOrTable(res.Order)
			})
		},
	}
	cmd.Flags().StringVar(&company, "company", "", "company name")
	cmd.Flags().StringVar(&contact, "contact", "", "contact name")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&address, "address", "", "street address")
	cmd.Flags().StringVar(&city, "city", "", "city")
	cmd.Flags().StringVar(&postalCode, "postal-code", "", "postal code")
	cmd.Flags().StringVar(&ref, "ref", "", "contract reference")
	cmd.Flags().StringVar(&product, "product", "", "product name")
	cmd.Flags().StringVar(&serial, "serial", "", "serial number")
	cmd.Flags().StringVar(&agentID, "agent-id", "", "assigned agent id")
	cmd.Flags().StringVar(&agentName, "agent-name", "", "assigned agent name")
	cmd.Flags().BoolVar(&phoneConfirmed, "phone-confirmed", false, "phone number confirmed")
	cmd.Flags().StringVar(&validationState, "validation", "", "new validation state")
	cmd.Flags().StringVar(&validationReason, "validation-reason", "", "reason code for blocked/canceled")
	cmd.Flags().StringVar(&activationState, "activation", "", "new activation state")
	cmd.Flags().StringVar(&activationReason, "activation-reason", "", "reason code for blocked/canceled")
	cmd.Flags().StringVar(&verifiedSerial, "verified-serial", "", "verified serial number")
	return cmd
}

func orderDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				o, err := a.Coordinator.SoftDelete(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	return cmd
}

func orderRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <id>",
		Short: "Restore a soft-deleted order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				o, err := a.Coordinator.Restore(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	return cmd
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Import missing orders from upstream",
		Long:  "Pulls the upstream listing page by page, fetches details for orders the local store does not know yet, and appends them. Existing local orders are never modified or deleted; local keys missing upstream are only reported.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.Importer == nil {
					return fmt.Errorf("upstream not configured; set upstream.base_url in %s", config.Path(viper.GetString("workspace")))
				}
				res, err := a.Importer.Sync(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("added %d order(s), %d detail fetch(es) skipped\n", res.Added, res.SkippedFetches)
				for _, key := range res.MissingUpstream {
					fmt.Printf("  missing upstream: %s\n", key)
				}
				return nil
			})
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show order book summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				resolved, err := a.Coordinator.Refresh(ctx)
				if err != nil {
					return err
				}
				byActivation := view.CountByActivation(resolved)
				byMonth := view.CountByMonth(resolved)
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"total":         len(resolved),
						"by_activation": byActivation,
						"by_month":      byMonth,
					})
				}
				fmt.Printf("Orders: %d\n", len(resolved))
				fmt.Println("By activation state:")
				for state, n := range byActivation {
					fmt.Printf("  %s: %d\n", state, n)
				}
				fmt.Println("By month:")
				for month, n := range byMonth {
					fmt.Printf("  %s: %d\n", month, n)
				}
				return nil
			})
		},
	}
	return cmd
}

func inventoryCmd() *cobra.Command {
	inv := &cobra.Command{Use: "inventory", Short: "Inspect the stock catalog"}
	inv.AddCommand(inventoryListCmd())
	return inv
}

func inventoryListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List inventory items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Inventory.List(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Serial", "Product", "Status", "Order"})
				for _, it := range items {
					tw.AppendRow(inventoryRow(it))
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage workspace config",
		Long:  "Config lives in orderline.yml at the workspace root: store backend, upstream credentials, server auth, and the reason-code vocabularies for blocked/canceled states.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printJSONOrTable(a.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Operation journal"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				db := a.DB()
				if db == nil {
					return fmt.Errorf("no local journal for this store backend")
				}
				rows, err := db.QueryContext(ctx,
					`SELECT ts, op, COALESCE(collection,''), actor_id, payload_json FROM journal ORDER BY id DESC LIMIT ?`, n)
				if err != nil {
					return err
				}
				defer rows.Close()
				type entry struct {
					TS         string          `json:"ts"`
					Op         string          `json:"op"`
					Collection string          `json:"collection,omitempty"`
					ActorID    string          `json:"actor_id"`
					Payload    json.RawMessage `json:"payload"`
				}
				var entries []entry
				for rows.Next() {
					var e entry
					var payload string
					if err := rows.Scan(&e.TS, &e.Op, &e.Collection, &e.ActorID, &payload); err != nil {
						return err
					}
					e.Payload = json.RawMessage(payload)
					entries = append(entries, e)
				}
				if err := rows.Err(); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				for _, e := range entries {
					fmt.Printf("%s  %-16s %-10s %s  %s\n", e.TS, e.Op, e.Collection, e.ActorID, string(e.Payload))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				handler, err := server.New(server.Config{
					Coordinator: a.Coordinator,
					Importer:    a.Importer,
					Inventory:   a.Inventory,
					Metrics:     a.Metrics,
					BasePath:    basePath,
					Auth: server.AuthConfig{
						APIKeys:   a.Config.Server.APIKeys,
						JWTSecret: a.Config.Server.JWTSecret,
					},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Orderline API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	workspace := viper.GetString("workspace")
	if _, err := sqlitestore.EnsureWorkspace(workspace); err != nil {
		return err
	}
	a, err := app.New(app.Options{Workspace: workspace})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func inventoryRow(it domain.InventoryItem) table.Row {
	return table.Row{it.SerialNumber, it.Product, it.Status, shortID(it.OrderID)}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
