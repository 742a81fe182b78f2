// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Command pgfilter compiles where filters against a configured model schema
// and optionally runs them on a database.
package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/canonical/pgfilter"
	"github.com/canonical/pgfilter/internal/config"
)

// env holds what every command needs once the configuration is loaded.
type env struct {
	cfg    *config.Config
	conn   *pgfilter.Connector
	logger *slog.Logger
}

// rootOptions holds the flags shared by every command and the registry the
// connector metrics are registered on.
type rootOptions struct {
	configPath  string
	metricsFile string
	registry    *prometheus.Registry
}

func setup(cmd *cobra.Command, opts *rootOptions) (*env, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	models, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	conn := pgfilter.NewConnector(models, pgfilter.Options{Logger: logger, Registerer: opts.registry})
	if err := cfg.ApplySearch(conn); err != nil {
		return nil, err
	}
	return &env{cfg: cfg, conn: conn, logger: logger}, nil
}

// parseFilter decodes a JSON filter. Numbers are kept as json.Number so
// that they are coerced by property type.
func parseFilter(s string) (pgfilter.Filter, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewBufferString(s))
	dec.UseNumber()
	var f pgfilter.Filter
	if err := dec.Decode(&f); err != nil {
		return nil, errors.Wrap(err, "cannot parse filter")
	}
	return f, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	return enc.Encode(v)
}

// newRootCmd returns the pgfilter command. The metrics of the connector are
// registered on registry and written to the file named by --metrics-file,
// in the format of the node exporter textfile collector, once the command
// is done.
func newRootCmd(registry *prometheus.Registry) *cobra.Command {
	opts := &rootOptions{registry: registry}
	root := &cobra.Command{
		Use:           "pgfilter",
		Short:         "Compile where filters to PostgreSQL",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.metricsFile == "" {
				return nil
			}
			return errors.Wrap(prometheus.WriteToTextfile(opts.metricsFile, opts.registry), "cannot write metrics")
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "configuration file")
	root.PersistentFlags().StringVar(&opts.metricsFile, "metrics-file", "", "write the metrics to this file")
	root.AddCommand(
		newCompileCmd(opts),
		newColumnsCmd(opts),
		newFindCmd(opts),
	)
	return root
}

func newCompileCmd(opts *rootOptions) *cobra.Command {
	var modelName string
	cmd := &cobra.Command{
		Use:   "compile FILTER",
		Short: "Print the SQL and parameters of a JSON filter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			where, err := parseFilter(args[0])
			if err != nil {
				return err
			}
			where = e.conn.RewriteTextSearch(modelName, where)
			w, err := e.conn.Compile(modelName, where)
			if err != nil {
				return err
			}
			tail := w.Tail()
			return writeJSON(cmd, struct {
				SQL     string          `json:"sql"`
				Params  []any           `json:"params"`
				Skipped []pgfilter.Skip `json:"skipped,omitempty"`
			}{
				SQL:     tail.Rebind(e.cfg.Driver),
				Params:  tail.Params,
				Skipped: w.Skipped,
			})
		},
	}
	cmd.Flags().StringVarP(&modelName, "model", "m", "", "model name")
	cmd.MarkFlagRequired("model")
	return cmd
}

func newColumnsCmd(opts *rootOptions) *cobra.Command {
	var modelName string
	var fields []string
	cmd := &cobra.Command{
		Use:   "columns",
		Short: "Print the select list of a model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			cols, err := e.conn.BuildColumnNames(modelName, fields)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cols)
			return err
		},
	}
	cmd.Flags().StringVarP(&modelName, "model", "m", "", "model name")
	cmd.Flags().StringSliceVarP(&fields, "fields", "f", nil, "properties to select")
	cmd.MarkFlagRequired("model")
	return cmd
}

func newFindCmd(opts *rootOptions) *cobra.Command {
	var modelName string
	var q pgfilter.Query
	var fields []string
	cmd := &cobra.Command{
		Use:   "find [FILTER]",
		Short: "Run a JSON filter on the configured database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				if q.Where, err = parseFilter(args[0]); err != nil {
					return err
				}
			}
			if len(fields) > 0 {
				q.Fields = fields
			}
			sqldb, err := sql.Open(e.cfg.Driver, e.cfg.DSN)
			if err != nil {
				return errors.Wrapf(err, "cannot open %s database", e.cfg.Driver)
			}
			db := pgfilter.NewDB(sqldb, e.cfg.Driver, e.conn)
			defer db.Close()

			insts, err := db.Find(cmd.Context(), modelName, &q)
			if err != nil {
				return err
			}
			e.logger.Debug("found instances", "model", modelName, "count", len(insts))
			for _, inst := range insts {
				if err := writeJSON(cmd, inst); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&modelName, "model", "m", "", "model name")
	cmd.Flags().StringSliceVarP(&fields, "fields", "f", nil, "properties to select")
	cmd.Flags().StringSliceVarP(&q.Order, "order", "o", nil, "sort keys, e.g. \"price DESC\"")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "maximum number of rows")
	cmd.Flags().IntVar(&q.Skip, "skip", 0, "number of rows to skip")
	cmd.MarkFlagRequired("model")
	return cmd
}

func main() {
	if err := newRootCmd(prometheus.NewRegistry()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
