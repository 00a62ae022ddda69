package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"dmagent/internal/wire"
)

func newSendCommand(ctx *commandContext) *cobra.Command {
	var endpoint string
	var version uint32
	var list bool
	cmd := &cobra.Command{
		Use:   "send <tag> [json-payload]",
		Short: "Send one command frame straight to the worker",
		Long: "Send one command frame straight to the worker and print the response body.\n" +
			"The tag is a command name such as GetTimeInfo or its number.",
		Args: func(cmd *cobra.Command, args []string) error {
			if list {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.RangeArgs(1, 2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if list {
				rows := make([][]string, 0, len(wire.Tags()))
				for _, tag := range wire.Tags() {
					rows = append(rows, []string{strconv.FormatUint(uint64(tag), 10), tag.String()})
				}
				fmt.Fprintln(out, renderTable([]string{"Tag", "Command"}, rows, []columnAlignment{alignRight, alignLeft}))
				return nil
			}

			tag, ok := wire.ParseTag(strings.TrimSpace(args[0]))
			if !ok {
				return fmt.Errorf("unknown command tag %q (see `dmagent send --list`)", args[0])
			}
			frame := wire.Frame{Tag: tag, Version: version}
			if len(args) == 2 {
				payload := []byte(args[1])
				if !json.Valid(payload) {
					return fmt.Errorf("payload is not valid JSON")
				}
				frame.Payload = payload
			}

			client, err := ctx.channelClient(endpoint)
			if err != nil {
				return err
			}
			resp, err := client.Send(cmd.Context(), frame)
			if err != nil {
				return wrapWorkerError(err, client.Endpoint())
			}
			if err := resp.Err(); err != nil {
				return err
			}
			return printBody(out, resp.Body)
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Worker endpoint (unix:/path or tcp:host:port)")
	cmd.Flags().Uint32Var(&version, "frame-version", wire.CurrentVersion, "Protocol version written into the frame")
	cmd.Flags().BoolVar(&list, "list", false, "List command tags")
	return cmd
}

func printBody(out io.Writer, body []byte) error {
	if len(body) == 0 {
		_, err := fmt.Fprintln(out, "OK")
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		_, err = fmt.Fprintln(out, string(body))
		return err
	}
	pretty.WriteByte('\n')
	_, err := out.Write(pretty.Bytes())
	return err
}
