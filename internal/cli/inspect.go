package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Auditware/radar/internal/ir"
	"github.com/Auditware/radar/internal/model"
	"github.com/Auditware/radar/internal/normalize"
	"github.com/Auditware/radar/internal/project"
	"github.com/Auditware/radar/internal/syntax"
)

// parseFile reads path and parses it, mapping failures to exit codes.
func parseFile(cmd *cobra.Command, path, dialect string) (model.SourceUnit, *syntax.Tree, error) {
	var forced model.Dialect
	if dialect != "" {
		d, ok := model.ParseDialect(dialect)
		if !ok {
			return model.SourceUnit{}, nil, usageError(fmt.Errorf("unknown dialect %q", dialect))
		}
		forced = d
	}
	su, err := project.ReadUnit(path, forced)
	if err != nil {
		return su, nil, usageError(err)
	}
	tree, err := syntax.NewRustFrontend().Parse(cmd.Context(), su.Text)
	if err != nil {
		var pe *model.ParseError
		if errors.As(err, &pe) {
			pe.File = path
			return su, nil, &ExitError{Code: ExitParseError, Err: pe}
		}
		return su, nil, usageError(err)
	}
	return su, tree, nil
}

func newASTCmd() *cobra.Command {
	var dialect string
	cmd := &cobra.Command{
		Use:   "ast FILE",
		Short: "Print the syntax tree of a Rust source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, tree, err := parseFile(cmd, args[0], dialect)
			if err != nil {
				return err
			}
			return tree.Dump(cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&dialect, "dialect", "", "Force the dialect: anchor|stylus")
	return cmd
}

type irDump struct {
	Version  string                      `json:"version"`
	File     string                      `json:"file"`
	Dialect  model.Dialect               `json:"dialect"`
	Handlers []*ir.Handler               `json:"handlers"`
	Failures []*model.NormalizationError `json:"failures,omitempty"`
}

func newIRCmd(g *globals) *cobra.Command {
	var dialect string
	cmd := &cobra.Command{
		Use:   "ir FILE",
		Short: "Print the normalized handler IR of a source file as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.load(args[0])
			if err != nil {
				return usageError(err)
			}
			su, tree, err := parseFile(cmd, args[0], dialect)
			if err != nil {
				return err
			}
			logger := g.logger(cfg, cmd.ErrOrStderr())
			res, err := normalize.New(logger.Named("normalize")).Normalize(tree, su)
			if err != nil {
				return usageError(err)
			}
			out := irDump{Version: ir.Version, File: su.Path, Dialect: su.Dialect, Handlers: res.Handlers, Failures: res.Failures}
			if out.Handlers == nil {
				out.Handlers = []*ir.Handler{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&dialect, "dialect", "", "Force the dialect: anchor|stylus")
	return cmd
}
