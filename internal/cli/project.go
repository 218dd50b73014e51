package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewProjectCmd создаёт группу команд для управления проектами.
func NewProjectCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}

	cmd.AddCommand(
		newProjectInitCmd(clientFn, outputFn),
		newProjectBuildCmd(clientFn, outputFn),
		newProjectInfoCmd(clientFn, outputFn),
		newProjectRemoveCmd(clientFn, outputFn),
	)

	return cmd
}

func newProjectInitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "init USER PROJECT",
		Short: "Create a new project from the application skeleton",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().Init(args[0], args[1]); err != nil {
				return err
			}
			outputFn().Success("Project initialized")
			return nil
		},
	}
}

func newProjectBuildCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var key string
	var private, debug, hydrates bool
	var signingKeys map[string]string

	cmd := &cobra.Command{
		Use:   "build USER PROJECT UID",
		Short: "Submit a project build",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := BuildRequest{
				Private:  private,
				Debug:    debug,
				Hydrates: hydrates,
			}

			for platform, id := range signingKeys {
				keyID, err := strconv.ParseInt(id, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid signing key id for %s: %q", platform, id)
				}
				if req.Keys == nil {
					req.Keys = make(map[string]KeyRef)
				}
				req.Keys[platform] = KeyRef{ID: keyID}
			}

			if err := clientFn().Build(args[0], args[1], args[2], key, req); err != nil {
				return err
			}
			outputFn().Success("Build submitted")
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "auth token for the build service (required)")
	cmd.Flags().BoolVar(&private, "private", false, "create the app as private")
	cmd.Flags().BoolVar(&debug, "debug", false, "request a debug build")
	cmd.Flags().BoolVar(&hydrates, "hydrates", false, "enable hydration")
	cmd.Flags().StringToStringVar(&signingKeys, "signing-key", nil, "signing key ids per platform (ios=123,android=456)")
	cmd.MarkFlagRequired("key")

	return cmd
}

func newProjectInfoCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "info USER PROJECT UID",
		Short: "Show the stored build status",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := clientFn().Info(args[0], args[1], args[2])
			if err != nil {
				return err
			}

			out := outputFn()
			if out.jsonMode {
				out.JSON(raw)
				return nil
			}

			// Запись — либо отчёт по платформам, либо {error}.
			var data struct {
				ID     int64             `json:"id"`
				Status map[string]string `json:"status"`
				Errors map[string]string `json:"error"`
			}
			if err := json.Unmarshal(raw, &data); err != nil || len(data.Status) == 0 {
				out.JSON(raw)
				return nil
			}

			rows := make([][]string, 0, len(data.Status))
			for platform, state := range data.Status {
				rows = append(rows, []string{platform, state, data.Errors[platform]})
			}
			out.Table([]string{"PLATFORM", "STATUS", "ERROR"}, rows)
			return nil
		},
	}
}

func newProjectRemoveCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "remove USER PROJECT UID",
		Short: "Remove the stored project record",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().Remove(args[0], args[1], args[2]); err != nil {
				return err
			}
			outputFn().Success("Project removed")
			return nil
		},
	}
}

// NewMeCmd создаёт команду проверки токена.
func NewMeCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "me",
		Short: "Show the account behind an auth token",
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := clientFn().Me(key)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Print(
				[]string{"ID", "USERNAME", "EMAIL"},
				[][]string{{strconv.FormatInt(account.ID, 10), account.Username, account.Email}},
				account,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "auth token for the build service (required)")
	cmd.MarkFlagRequired("key")

	return cmd
}
