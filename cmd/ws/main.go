package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"worksafe/internal/app"
	"worksafe/internal/config"
	"worksafe/internal/db"
	"worksafe/internal/domain"
	"worksafe/internal/engine"
	"worksafe/internal/engine/auth"
	"worksafe/internal/server"
	"worksafe/internal/share"
)

var rootCmd = &cobra.Command{
	Use:   "ws",
	Short: "Worksafe CLI",
	Long: `Worksafe keeps work orders, their items and the contractor safety agreement
that has to be signed before work starts.
- Work order: an 8 character code and a name, moving 接收工令 -> MO -> 已完工 -> 已結案.
- Items: catalog lines with quantity and price; merging folds items of other work orders in.
- Agreement: contractor, duration, a 20 point safety checklist and five signature slots.
- Share: a signing link that lets an outside party sign one agreement without an account.
- Events: every change leaves an audit entry, view with 'ws events'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("WORKSAFE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "acting user")
	rootCmd.PersistentFlags().String("actor-name", "", "display name used when the acting user is first seen")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("actor-name", rootCmd.PersistentFlags().Lookup("actor-name"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(workOrderCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(agreementCmd())
	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(stampCmd())
	rootCmd.AddCommand(clearCmd())
	rootCmd.AddCommand(redateCmd())
	rootCmd.AddCommand(mergeCmd())
	rootCmd.AddCommand(transferCmd())
	rootCmd.AddCommand(shareCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var name string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write worksafe.yml and create the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(name)), 0o644); err != nil {
				return err
			}
			rt, err := app.Open(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer rt.Close()
			fmt.Printf("Initialized %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "worksafe", "app name")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func workOrderCmd() *cobra.Command {
	wo := &cobra.Command{Use: "wo", Short: "Manage work orders"}
	wo.AddCommand(workOrderListCmd())
	wo.AddCommand(workOrderCreateCmd())
	wo.AddCommand(workOrderShowCmd())
	wo.AddCommand(workOrderUpdateCmd())
	wo.AddCommand(workOrderDeleteCmd())
	return wo
}

func workOrderListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, acc auth.Access) error {
				items, err := e.ListWorkOrders(ctx, acc, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "No", "Name", "Status", "Applicant", "Remark"})
				for _, w := range items {
					tw.AppendRow(table.Row{w.ID, w.DisplayNo(), w.Name, w.Status, w.Applicant, w.Remark})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (接收工令, MO, 已完工, 已結案 or received, in_progress, completed, closed)")
	return cmd
}

func workOrderCreateCmd() *cobra.Command {
	var in engine.WorkOrderInput
	var ag engine.AgreementInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a work order",
		Long:  "Creates a work order. With --contractor the agreement is written together with it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, acc auth.Access) error {
				if ag.Contractor == "" {
					wo, err := e.CreateWorkOrder(ctx, acc, in)
					if err != nil {
						return err
					}
					return printJSONOrTable(wo)
				}
				wo, a, err := e.CreateWorkOrderWithAgreement(ctx, acc, in, ag)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"workOrder": wo, "agreement": a})
			})
		},
	}
	cmd.Flags().StringVar(&in.No, "no", "", "8 character work order code")
	cmd.Flags().StringVar(&in.Name, "name", "", "work order name")
	cmd.Flags().StringVar(&in.Status, "status", "", "initial status")
	cmd.Flags().StringVar(&in.SubNo, "sub-no", "", "2 character sub code while in progress")
	cmd.Flags().StringVar(&in.Applicant, "applicant", "", "applicant")
	cmd.Flags().StringVar(&in.Remark, "remark", "", "remark")
	cmd.Flags().StringVar(&ag.Contractor, "contractor", "", "contractor; also writes the agreement")
	cmd.Flags().StringVar(&ag.DurationOption, "duration-option", "", "1 work days, 2 calendar days, 3 fixed date")
	cmd.Flags().StringVar(&ag.DurationDays, "duration-days", "", "work days")
	cmd.Flags().StringVar(&ag.DurationCoop, "duration-coop", "", "cooperation note")
	cmd.Flags().StringVar(&ag.DurationCalendarDays, "duration-calendar-days", "", "calendar days")
	cmd.Flags().StringVar(&ag.DurationDate, "duration-date", "", "end date YYYY-MM-DD")
	cmd.Flags().IntSliceVar(&ag.SafetyChecks, "safety-check", nil, "selected safety checklist entries (0 based)")
	_ = cmd.MarkFlagRequired("no")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func workOrderShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a work order with its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, acc auth.Access) error {
				wo, err := e.GetWorkOrder(ctx, acc, args[0])
				if err != nil {
					return err
				}
				items, err := e.ListItems(ctx, acc, wo.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"workOrder": wo, "items": items})
				}
				fmt.Printf("%s %s [%s]\n", wo.DisplayNo(), wo.Name, wo.Status)
				if wo.Applicant != "" {
					fmt.Printf("Applicant: %s\n", wo.Applicant)
				}
				if wo.Remark != "" {
					fmt.Printf("Remark: %s\n", wo.Remark)
				}
				printItems(items)
				return nil
			})
		},
	}
}

func workOrderUpdateCmd() *cobra.Command {
	var no, name, status, subNo, applicant, remark string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch engine.WorkOrderPatch
			flags := cmd.Flags()
			if flags.Changed("no") {
				patch.No = &no
			}
			if flags.Changed("name") {
				patch.Name = &name
			}
			if flags.Changed("status") {
				patch.Status = &status
			}
			if flags.Changed("sub-no") {
				patch.SubNo = &subNo
			}
			if flags.Changed("applicant") {
				patch.Applicant = &applicant
			}
			if flags.Changed("remark") {
				patch.Remark = &remark
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, acc auth.Access) error {
				wo, err := e.UpdateWorkOrder(ctx, acc, args[0], patch)
				if err != nil {
					return err
				}
				return printJSONOrTable(wo)
			})
		},
	}
	cmd.Flags().StringVar(&no, "no", "", "work order code")
	cmd.Flags().StringVar(&name, "name", "", "name")
	cmd.Flags().StringVar(&status, "status", "", "status")
	cmd.Flags().StringVar(&subNo, "sub-no", "", "sub code")
	cmd.Flags().StringVar(&applicant, "applicant", "", "applicant")
	cmd.Flags().StringVar(&remark, "remark", "", "remark")
	return cmd
}

func workOrderDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a work order with its items and agreement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, acc auth.Access) error {
				if err := e.DeleteWorkOrder(ctx, acc, args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func itemCmd() *cobra.Command {
	it := &cobra.Command{Use: "item", Short: "Manage work order items"}
	it.AddCommand(itemSaveCmd("add", "Add an item"))
	it.AddCommand(itemSaveCmd("update", "Update an item"))
	it.AddCommand(itemListCmd())
	it.AddCommand(itemDeleteCmd())
	return it
}

func itemSaveCmd(use, short string) *cobra.Command {
	var in engine.ItemInput
	var price float64
	cmd := &cobra.Command{
		Use:   use + " <work-order-id>",
		Short: short,
		Long:  "Name and price left out are taken from the catalog when it knows the code.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.WorkOrderID = args[0]
			if cmd.Flags().Changed("price") {
				in.Price = &price
			}
			if use == "update" && in.ID == "" {
				return fmt.Errorf("--id required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, acc auth.Access) error {
				saved, err := e.SaveItem(ctx, acc, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(saved)
			})
		},
	}
	if use == "update" {
		cmd.Flags().StringVar(&in.ID, "id", "", "item id")
	}
	cmd.Flags().StringVar(&in.No, "no", "", "catalog code")
	cmd.Flags().StringVar(&in.Name, "name", "", "name")
	cmd.Flags().Float64Var(&in.Qty, "qty", 0, "quantity")
	cmd.Flags().Float64Var(&price, "price", 0, "unit price")
	cmd.Flags().StringVar(&in.Remark, "remark", "", "remark")
	_ = cmd.MarkFlagRequired("no")
	_ = cmd.MarkFlagRequired("qty")
	return cmd
}

func itemListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <work-order-id>",
		Short: "List items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, acc auth.Access) error {
				items, err := e.ListItems(ctx, acc, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printItems(items)
				return nil
			})
		},
	}
}

func itemDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <work-order-id> <item-id>",
		Short: "Delete an item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, acc auth.Access) error {
				if err := e.DeleteItem(ctx, acc, args[0], args[1]); err != nil {
					return err
				}
				fmt.Printf("Deleted item %s\n", args[1])
				return nil
			})
		},
	}
}

func agreementCmd() *cobra.Command {
	ag := &cobra.Command{Use: "agreement", Short: "Show and edit safety agreements"}
	ag.AddCommand(&cobra.Command{
		Use:   "show <work-order-id>",
		Short: "Show the agreement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, acc auth.Access) error {
				a, stored, err := e.GetAgreement(ctx, acc, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"stored": stored, "agreement": a})
				}
				printAgreement(e.Config, a, stored)
				return nil
			})
		},
	})
	ag.AddCommand(&cobra.Command{
		Use:   "set <work-order-id> <field> <value>",
		Short: "Set one agreement field",
		Long:  "Fields: woNo, woName, contractor, durationOption, durationDays, durationCoop, durationCalendarDays, durationDate.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, acc auth.Access) error {
				a, _, err := e.UpdateAgreementField(ctx, acc, args[0], args[1], args[2])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	})
	ag.AddCommand(&cobra.Command{
		Use:   "toggle <work-order-id> <index>",
		Short: "Toggle a safety checklist entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("index must be a number: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, acc auth.Access) error {
				a, _, err := e.ToggleSafetyCheck(ctx, acc, args[0], idx)
				if err != nil {
					return err
				}
				return printJSONOrTable(a.SafetyChecks)
			})
		},
	})
	return ag
}

func signCmd() *cobra.Command {
	var image, imageFile string
	cmd := &cobra.Command{
		Use:   "sign <work-order-id> <role>",
		Short: "Capture a signature image into an empty slot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if imageFile != "" {
				data, err := os.ReadFile(imageFile)
				if err != nil {
					return err
				}
				image = dataURL(data)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, acc auth.Access) error {
				res, err := e.Sign(ctx, acc, args[0], args[1], image)
				return printSignResult(res, err, args[1])
			})
		},
	}
	cmd.Flags().StringVar(&image, "image", "", "signature image as a data URL")
	cmd.Flags().StringVar(&imageFile, "image-file", "", "read the signature image from a file")
	return cmd
}

func stampCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stamp <work-order-id> <role>",
		Short: "Fill a slot with your stored signature",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, acc auth.Access) error {
				res, err := e.Stamp(ctx, acc, args[0], args[1])
				return printSignResult(res, err, args[1])
			})
		},
	}
}

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <work-order-id> <role>",
		Short: "Clear a signature slot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, acc auth.Access) error {
				res, err := e.Clear(ctx, acc, args[0], args[1])
				return printSignResult(res, err, args[1])
			})
		},
	}
}

func redateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "redate <work-order-id> <role> <YYYY-MM-DD>",
		Short: "Change the date of a captured signature",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, acc auth.Access) error {
				res, err := e.Redate(ctx, acc, args[0], args[1], args[2])
				return printSignResult(res, err, args[1])
			})
		},
	}
}

func mergeCmd() *cobra.Command {
	var allowRemerge bool
	cmd := &cobra.Command{
		Use:   "merge <destination-id> <source-id>...",
		Short: "Fold the items of source work orders into the destination",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, acc auth.Access) error {
				res, err := e.Merge(ctx, acc, engine.MergeOptions{
					DestinationID: args[0],
					SourceIDs:     args[1:],
					AllowRemerge:  allowRemerge,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Merged %d source(s): %d updated, %d created\n", len(args)-1, res.Updated, res.Created)
				printItems(res.Items)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&allowRemerge, "allow-remerge", false, "fold sources that were merged before")
	return cmd
}

func transferCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "transfer <work-order-id>",
		Short: "Copy a work order and its agreement to another user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, acc auth.Access) error {
				res, err := e.Transfer(ctx, acc, engine.TransferOptions{WorkOrderID: args[0], TargetNamespace: to})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "receiving user id")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func shareCmd() *cobra.Command {
	var ttlHours int
	var baseURL string
	cmd := &cobra.Command{
		Use:   "share <work-order-id>",
		Short: "Issue a guest signing link (needs WORKSAFE_SHARE_SECRET)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issuer, err := share.NewIssuer(viper.GetString("share-secret"))
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, acc auth.Access) error {
				if _, err := e.GetWorkOrder(ctx, acc, args[0]); err != nil {
					return err
				}
				if ttlHours <= 0 {
					ttlHours = e.Config.Share.TTLHours
				}
				if ttlHours <= 0 {
					ttlHours = 72
				}
				token, err := issuer.Issue(acc.Namespace, args[0], time.Duration(ttlHours)*time.Hour)
				if err != nil {
					return err
				}
				out := map[string]any{"token": token, "expiresInHours": ttlHours}
				if baseURL != "" {
					link, err := share.Link(baseURL, share.Grant{Namespace: acc.Namespace, WorkOrderID: args[0]}, token)
					if err != nil {
						return err
					}
					out["link"] = link
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().IntVar(&ttlHours, "ttl-hours", 0, "link lifetime in hours (default from config)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "signing page URL to build a link for")
	return cmd
}

func profileCmd() *cobra.Command {
	pr := &cobra.Command{Use: "profile", Short: "Show and edit your profile"}
	pr.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show your profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, acc auth.Access) error {
				p, err := e.Profile(ctx, acc.ActorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	})
	var email, displayName, role, signatureURL, signatureFile string
	set := &cobra.Command{
		Use:   "set",
		Short: "Update your profile",
		Long:  "The role must be one of the configured signature slot labels, or empty to sign any slot.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var in engine.ProfileInput
			flags := cmd.Flags()
			if flags.Changed("email") {
				in.Email = &email
			}
			if flags.Changed("display-name") {
				in.DisplayName = &displayName
			}
			if flags.Changed("role") {
				in.Role = &role
			}
			if flags.Changed("signature-url") {
				in.SignatureURL = &signatureURL
			}
			if signatureFile != "" {
				data, err := os.ReadFile(signatureFile)
				if err != nil {
					return err
				}
				url := dataURL(data)
				in.SignatureURL = &url
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, acc auth.Access) error {
				p, err := e.SaveProfile(ctx, acc.ActorID, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	set.Flags().StringVar(&email, "email", "", "email")
	set.Flags().StringVar(&displayName, "display-name", "", "display name")
	set.Flags().StringVar(&role, "role", "", "signing role label")
	set.Flags().StringVar(&signatureURL, "signature-url", "", "personal signature image URL")
	set.Flags().StringVar(&signatureFile, "signature-file", "", "read the personal signature image from a file")
	pr.AddCommand(set)
	return pr
}

func eventsCmd() *cobra.Command {
	var evtType, entityID string
	var n int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, acc auth.Access) error {
				items, err := e.ListEvents(ctx, acc, evtType, entityID)
				if err != nil {
					return err
				}
				if n > 0 && len(items) > n {
					items = items[len(items)-n:]
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"At", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range items {
					payload, _ := json.Marshal(evt.Payload)
					tw.AppendRow(table.Row{evt.CreatedAt, evt.Type, evt.EntityKind + "/" + evt.EntityID, evt.ActorID, string(payload)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id filter")
	cmd.Flags().IntVar(&n, "n", 50, "show the last n events")
	return cmd
}

func catalogCmd() *cobra.Command {
	cat := &cobra.Command{Use: "catalog", Short: "Look up the product catalog"}
	var limit int
	search := &cobra.Command{
		Use:   "search [query]",
		Short: "Search catalog entries by code or name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Open(cmd.Context(), viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer rt.Close()
			if rt.Catalog == nil {
				return errors.New("no catalog configured (set catalog.file in worksafe.yml)")
			}
			q := ""
			if len(args) == 1 {
				q = args[0]
			}
			entries := rt.Catalog.Search(q, limit)
			if viper.GetBool("json") {
				return printJSON(entries)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"No", "Name", "Price"})
			for _, c := range entries {
				tw.AppendRow(table.Row{c.No, c.Name, c.Price})
			}
			tw.Render()
			return nil
		},
	}
	search.Flags().IntVar(&limit, "limit", 20, "maximum entries")
	cat.AddCommand(search)
	return cat
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Bearer tokens are checked with WORKSAFE_JWT_SECRET. WORKSAFE_SHARE_SECRET enables guest signing links.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := app.Open(ctx, viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer rt.Close()
			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				AllowLegacyActorHeader: allowActorHeader,
				Logger:                 rt.Log,
			}
			if authCfg.JWTSecret == "" && !allowActorHeader {
				return fmt.Errorf("WORKSAFE_JWT_SECRET is required for bearer auth")
			}
			if secret := viper.GetString("share-secret"); secret != "" {
				issuer, err := share.NewIssuer(secret)
				if err != nil {
					return err
				}
				authCfg.Shares = &issuer
			}
			cfg := server.Config{Engine: rt.Engine, BasePath: basePath, Auth: authCfg, Logger: rt.Log}
			if rt.Catalog != nil {
				cfg.Catalog = rt.Catalog
			}
			handler, err := server.New(cfg)
			if err != nil {
				return err
			}
			if server.StartWebhookDispatcher(ctx, rt.Engine, rt.Changes, rt.Log) {
				rt.Log.Info("webhooks enabled", zap.Int("count", len(rt.Config.Webhooks)))
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			rt.Log.Info("serving worksafe API",
				zap.String("addr", addr),
				zap.String("base_path", basePath),
				zap.Bool("share_links", authCfg.Shares != nil))
			fmt.Printf("Serving worksafe API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "trust X-Actor-Id without a token (local use only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, auth.Access) error) error {
	rt, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer rt.Close()
	actorID := strings.TrimSpace(viper.GetString("actor-id"))
	if err := rt.EnsureActor(ctx, actorID, viper.GetString("actor-name")); err != nil {
		return err
	}
	return fn(ctx, rt.Engine, auth.Owner(actorID))
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printItems(items []domain.Item) {
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "No", "Name", "Qty", "Price", "Remark"})
	total := 0.0
	for _, it := range items {
		tw.AppendRow(table.Row{it.ID, it.No, it.Name, it.Qty, it.Price, it.Remark})
		total += it.Qty * it.Price
	}
	tw.AppendFooter(table.Row{"", "", "", "", fmt.Sprintf("%.2f", total), ""})
	tw.Render()
}

func printAgreement(cfg *config.Config, a domain.Agreement, stored bool) {
	state := "stored"
	if !stored {
		state = "draft, not yet stored"
	}
	fmt.Printf("%s %s (%s)\n", a.WoNo, a.WoName, state)
	fmt.Printf("Contractor: %s\n", a.Contractor)
	switch a.DurationOption {
	case domain.DurationWorkDays:
		fmt.Printf("Duration: %s work days %s\n", a.DurationDays, a.DurationCoop)
	case domain.DurationCalendarDays:
		fmt.Printf("Duration: %s calendar days\n", a.DurationCalendarDays)
	case domain.DurationFixedDate:
		fmt.Printf("Duration: until %s\n", a.DurationDate)
	}
	checks := newTable()
	checks.AppendHeader(table.Row{"#", "", "Safety check"})
	for i, label := range cfg.Agreement.SafetyChecks {
		mark := ""
		if a.HasSafetyCheck(i) {
			mark = "x"
		}
		checks.AppendRow(table.Row{i, mark, label})
	}
	checks.Render()
	sigs := newTable()
	sigs.AppendHeader(table.Row{"Role", "Slot", "Signed", "Date"})
	for _, r := range cfg.Agreement.SignatureRoles {
		sig, ok := a.Signatures.Slot(r.ID)
		signed := ""
		if ok {
			signed = "yes"
		}
		sigs.AppendRow(table.Row{r.ID, r.Label, signed, sig.Date})
	}
	sigs.Render()
}

func printSignResult(res engine.SignResult, err error, role string) error {
	if err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(res)
	}
	if !res.Changed {
		fmt.Printf("%s unchanged\n", role)
		return nil
	}
	roles := make([]string, 0, len(res.Agreement.Signatures))
	for r := range res.Agreement.Signatures {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	fmt.Printf("%s updated; signed slots: %s\n", role, strings.Join(roles, ", "))
	return nil
}

func dataURL(data []byte) string {
	return "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data)
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
