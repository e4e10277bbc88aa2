package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/mergesub/internal/diag"
	"github.com/John-Robertt/mergesub/internal/fetch"
	"github.com/John-Robertt/mergesub/internal/merge"
	"github.com/John-Robertt/mergesub/internal/model"
)

func newMergeCmd(c *cli) *cobra.Command {
	var relay model.RelayTarget

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "对已保存的数据执行一次合并，并把 base64 结果写到 stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			st, closeStore, err := openBackend(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			target := cfg.Relay(url.Values{"CFIP": {relay.Address}, "CFPORT": {relay.Port}})

			p := merge.New(
				fetch.HTTPFetcher{Options: fetch.Options{Timeout: cfg.RequestTimeout()}},
				diag.NewZap(c.logger),
			)
			out, err := p.Produce(cmd.Context(), st, target)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().StringVar(&relay.Address, "cfip", "", "优选地址（覆盖配置）")
	cmd.Flags().StringVar(&relay.Port, "cfport", "", "优选端口（覆盖配置）")
	return cmd
}
