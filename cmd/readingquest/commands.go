package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/at-ishikawa/readingquest/internal/bootstrap"
	"github.com/at-ishikawa/readingquest/internal/cli"
	"github.com/at-ishikawa/readingquest/internal/database"
	"github.com/at-ishikawa/readingquest/internal/engine"
)

func newValidateCommand() *cobra.Command {
	var idempotencyKey string

	command := &cobra.Command{
		Use:   "validate <book-id> <segment> <answer>",
		Short: "Answer the comprehension question of a segment",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := currentUser()
			if err != nil {
				return err
			}
			segment, err := parseSegment(args[1])
			if err != nil {
				return err
			}

			return withComponents(cmd.Context(), func(ctx context.Context, c *bootstrap.Components) error {
				res, err := c.Service.ValidateSegment(ctx, engine.ValidateSegmentRequest{
					UserID:         user,
					BookID:         args[0],
					Segment:        segment,
					Answer:         args[2],
					IdempotencyKey: idempotencyKey,
				})
				if err != nil {
					return fmt.Errorf("ValidateSegment > %w", err)
				}
				if outputFormat == OutputJSON {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				return cli.NewPrinter(cmd.OutOrStdout()).PrintValidation(segment, res)
			})
		},
	}
	command.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "key that makes a retried wrong answer count once")
	return command
}

func newJokerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "joker <book-id> <segment>",
		Short: "Spend a joker to reveal and validate a segment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := currentUser()
			if err != nil {
				return err
			}
			segment, err := parseSegment(args[1])
			if err != nil {
				return err
			}

			return withComponents(cmd.Context(), func(ctx context.Context, c *bootstrap.Components) error {
				res, err := c.Service.ConsumeJoker(ctx, engine.ConsumeJokerRequest{
					UserID:  user,
					BookID:  args[0],
					Segment: segment,
				})
				if err != nil {
					return fmt.Errorf("ConsumeJoker > %w", err)
				}
				if outputFormat == OutputJSON {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				return cli.NewPrinter(cmd.OutOrStdout()).PrintJoker(segment, res)
			})
		},
	}
}

func newReadCommand() *cobra.Command {
	var start int

	command := &cobra.Command{
		Use:   "read <book-id>",
		Short: "Answer the questions of a book interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := currentUser()
			if err != nil {
				return err
			}

			return withComponents(cmd.Context(), func(ctx context.Context, c *bootstrap.Components) error {
				book, err := c.Service.Books.Book(ctx, args[0])
				if err != nil {
					return fmt.Errorf("Books.Book(%s) > %w", args[0], err)
				}
				if start == 0 {
					projection, err := c.Service.GetProgress(ctx, engine.ProgressRequest{UserID: user, BookID: book.ID})
					if err != nil {
						return fmt.Errorf("GetProgress > %w", err)
					}
					start = projection.ValidatedSegmentCount + 1
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Reading %s. Type 'joker' to reveal an answer, 'skip' to move on, 'quit' to exit.\n", book.Title)
				session := cli.NewReadingSessionCLI(c.Service, c.Service.Questions, user, book, start, os.Stdin, cmd.OutOrStdout())
				return session.Run(ctx)
			})
		},
	}
	command.Flags().IntVar(&start, "from", 0, "segment to start from (defaults to the first unvalidated segment)")
	return command
}

func newProgressCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "progress <book-id>",
		Short: "Show the progress through a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := currentUser()
			if err != nil {
				return err
			}

			return withComponents(cmd.Context(), func(ctx context.Context, c *bootstrap.Components) error {
				projection, err := c.Service.GetProgress(ctx, engine.ProgressRequest{UserID: user, BookID: args[0]})
				if err != nil {
					return fmt.Errorf("GetProgress > %w", err)
				}
				if outputFormat == OutputJSON {
					return writeJSON(cmd.OutOrStdout(), projection)
				}
				return cli.NewPrinter(cmd.OutOrStdout()).PrintProgress(projection)
			})
		},
	}
}

func newLibraryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "library <book-id>...",
		Short: "Show the progress through several books",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := currentUser()
			if err != nil {
				return err
			}

			return withComponents(cmd.Context(), func(ctx context.Context, c *bootstrap.Components) error {
				projections, err := c.Service.GetLibraryProgress(ctx, engine.LibraryProgressRequest{UserID: user, BookIDs: args})
				if err != nil {
					return fmt.Errorf("GetLibraryProgress > %w", err)
				}
				if outputFormat == OutputJSON {
					return writeJSON(cmd.OutOrStdout(), projections)
				}
				return cli.NewPrinter(cmd.OutOrStdout()).PrintLibrary(projections)
			})
		},
	}
}

func newLockStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lock-status <book-id> <segment>",
		Short: "Show whether a segment accepts answers",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := currentUser()
			if err != nil {
				return err
			}
			segment, err := parseSegment(args[1])
			if err != nil {
				return err
			}

			return withComponents(cmd.Context(), func(ctx context.Context, c *bootstrap.Components) error {
				status, err := c.Service.GetLockStatus(ctx, engine.LockStatusRequest{UserID: user, BookID: args[0], Segment: segment})
				if err != nil {
					return fmt.Errorf("GetLockStatus > %w", err)
				}
				if outputFormat == OutputJSON {
					return writeJSON(cmd.OutOrStdout(), status)
				}
				return cli.NewPrinter(cmd.OutOrStdout()).PrintLockStatus(segment, status)
			})
		},
	}
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show experience, badges, quests, streak and companion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := currentUser()
			if err != nil {
				return err
			}

			return withComponents(cmd.Context(), func(ctx context.Context, c *bootstrap.Components) error {
				profile, err := c.Service.GetStats(ctx, engine.StatsRequest{UserID: user})
				if err != nil {
					return fmt.Errorf("GetStats > %w", err)
				}
				if outputFormat == OutputJSON {
					return writeJSON(cmd.OutOrStdout(), profile)
				}
				return cli.NewPrinter(cmd.OutOrStdout()).PrintProfile(profile)
			})
		},
	}
}

func newPositionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "position <book-id> <position>",
		Short: "Record the reading position in a book",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := currentUser()
			if err != nil {
				return err
			}
			position, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid position %q: %w", args[1], err)
			}

			return withComponents(cmd.Context(), func(ctx context.Context, c *bootstrap.Components) error {
				projection, err := c.Service.RecordPosition(ctx, engine.RecordPositionRequest{UserID: user, BookID: args[0], Position: position})
				if err != nil {
					return fmt.Errorf("RecordPosition > %w", err)
				}
				if outputFormat == OutputJSON {
					return writeJSON(cmd.OutOrStdout(), projection)
				}
				return cli.NewPrinter(cmd.OutOrStdout()).PrintProgress(projection)
			})
		},
	}
}

func newCompleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <book-id>",
		Short: "Mark a book as finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := currentUser()
			if err != nil {
				return err
			}

			return withComponents(cmd.Context(), func(ctx context.Context, c *bootstrap.Components) error {
				projection, err := c.Service.MarkCompleted(ctx, engine.ProgressRequest{UserID: user, BookID: args[0]})
				if err != nil {
					return fmt.Errorf("MarkCompleted > %w", err)
				}
				if outputFormat == OutputJSON {
					return writeJSON(cmd.OutOrStdout(), projection)
				}
				return cli.NewPrinter(cmd.OutOrStdout()).PrintProgress(projection)
			})
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loadConfig() > %w", err)
			}
			db, err := database.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("database.Open() > %w", err)
			}
			defer func() {
				_ = db.Close()
			}()

			applied, err := database.Migrate(cmd.Context(), db)
			if err != nil {
				return fmt.Errorf("database.Migrate() > %w", err)
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", name)
			}
			return nil
		},
	}
}
