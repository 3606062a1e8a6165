package cli

import (
	"context"
	"fmt"

	"github.com/Oudwins/somedaex/internals/cliutil"
	"github.com/Oudwins/somedaex/internals/timeouts"
	"github.com/Oudwins/somedaex/sdk"
	"github.com/spf13/cobra"

	z "github.com/Oudwins/zog"
)

type addArgs struct {
	Type   string   `zog:"type"`
	Source int      `zog:"source"`
	Set    []string `zog:"set"`
}

var addArgsSchema = z.Struct(z.Shape{
	"Type":   z.String().Required().Trim(),
	"Source": z.Int().GTE(-1),
	"Set":    z.Slice(z.String().Trim().Contains("=")),
})

func (a *app) typesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the available task types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliutil.PrintTypes(cmd.OutOrStdout(), a.registry)
			return nil
		},
	}
}

func (a *app) tasksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks [id]",
		Short: "Show the tasks the backend knows about",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := a.client(a.config.Backend.URL)
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SecondDefault)
			defer cancel()

			if len(args) == 1 {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				info, err := client.GetTask(ctx, id)
				if err != nil {
					return err
				}
				cliutil.PrintTask(cmd.OutOrStdout(), *info)
				return nil
			}

			infos, err := client.ListTasks(ctx)
			if err != nil {
				return err
			}
			cliutil.PrintTasks(cmd.OutOrStdout(), infos)
			return nil
		},
	}
}

func (a *app) addCommand() *cobra.Command {
	parsed := addArgs{}
	cmd := &cobra.Command{
		Use:   "add <type>",
		Short: "Create a task on the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed.Type = args[0]
			if issues := addArgsSchema.Validate(&parsed); len(issues) > 0 {
				return fmt.Errorf("%w: invalid arguments:\n%s", ErrUsage, z.Issues.Prettify(issues))
			}
			t, err := a.registry.Get(parsed.Type)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrUsage, err)
			}
			updates, err := cliutil.ParseAssignments(parsed.Set)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrUsage, err)
			}

			params := sdk.CreateTaskParams{
				Type:   t.ID,
				Config: t.DefaultConfig().Merge(updates),
			}
			if parsed.Source >= 0 {
				source := parsed.Source
				params.Source = &source
			}

			client := a.client(a.config.Backend.URL)
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SecondDefault)
			defer cancel()
			created, err := client.CreateTask(ctx, params)
			if err != nil {
				return err
			}
			cliutil.PrintCreated(cmd.OutOrStdout(), created)
			return nil
		},
	}
	cmd.Flags().IntVar(&parsed.Source, "source", -1, "id of the task to read from")
	cmd.Flags().StringArrayVar(&parsed.Set, "set", nil, "config entry as key=value, repeatable")
	return cmd
}

func (a *app) rmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a task on the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client := a.client(a.config.Backend.URL)
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SecondDefault)
			defer cancel()
			if err := client.DeleteTask(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted: %d\n", id)
			return nil
		},
	}
}

func (a *app) setCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <id> <key=value>...",
		Short: "Update a task's config on the backend",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			updates, err := cliutil.ParseAssignments(args[1:])
			if err != nil {
				return fmt.Errorf("%w: %v", ErrUsage, err)
			}
			client := a.client(a.config.Backend.URL)
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SecondDefault)
			defer cancel()
			if err := client.UpdateTask(ctx, id, updates); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated: %d\n", id)
			return nil
		},
	}
}

func (a *app) watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print backend events as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := a.client(a.config.Backend.URL)
			out := cmd.OutOrStdout()
			return client.Subscribe(cmd.Context(), func(event sdk.Event) {
				cliutil.PrintEvent(out, event)
			})
		},
	}
}
