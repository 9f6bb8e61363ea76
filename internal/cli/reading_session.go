package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/at-ishikawa/readingquest/internal/catalog"
	"github.com/at-ishikawa/readingquest/internal/engine"
)

var errEnd = errors.New("end of session")

//go:generate mockgen -source=reading_session.go -destination=../mocks/cli/mock_reader.go -package=mock_cli Reader

// Reader is the part of the engine a reading session drives.
type Reader interface {
	ValidateSegment(ctx context.Context, req engine.ValidateSegmentRequest) (engine.ValidateSegmentResult, error)
	ConsumeJoker(ctx context.Context, req engine.ConsumeJokerRequest) (engine.ConsumeJokerResult, error)
}

// ReadingSessionCLI walks a reader through the questions of a book, one segment at a time.
// Typing "joker" reveals the answer with a joker, "skip" moves on, and "quit" ends the session.
type ReadingSessionCLI struct {
	reader      Reader
	questions   catalog.QuestionCatalog
	printer     *Printer
	stdinReader *bufio.Reader

	userID   string
	book     catalog.Book
	segment  int
	finished bool
}

// NewReadingSessionCLI starts a session at segment start of book.
func NewReadingSessionCLI(
	reader Reader,
	questions catalog.QuestionCatalog,
	userID string,
	book catalog.Book,
	start int,
	stdin io.Reader,
	stdout io.Writer,
) *ReadingSessionCLI {
	return &ReadingSessionCLI{
		reader:      reader,
		questions:   questions,
		printer:     NewPrinter(stdout),
		stdinReader: bufio.NewReader(stdin),
		userID:      userID,
		book:        book,
		segment:     max(start, 1),
	}
}

// Run asks questions until the book ends, the input ends, or ctx is canceled.
func (cli *ReadingSessionCLI) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := cli.Session(ctx); err != nil {
			if errors.Is(err, errEnd) {
				return nil
			}
			return fmt.Errorf("error: %w", err)
		}
	}
}

// Session asks the question of the current segment once.
func (cli *ReadingSessionCLI) Session(ctx context.Context) error {
	if cli.finished || cli.segment > cli.book.ExpectedSegments {
		if err := cli.printer.printf(cli.printer.green, "🎉 You reached the end of %s\n", cli.book.Title); err != nil {
			return err
		}
		return errEnd
	}

	question, err := cli.questions.Question(ctx, cli.book.ID, cli.segment)
	if err != nil {
		return fmt.Errorf("questions.Question(%s, %d) > %w", cli.book.ID, cli.segment, err)
	}
	if err := cli.printer.printf(cli.printer.bold, "Segment %d/%d: ", cli.segment, cli.book.ExpectedSegments); err != nil {
		return err
	}
	if err := cli.printer.printf(nil, "%s\n> ", question.Prompt); err != nil {
		return err
	}

	line, err := cli.stdinReader.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read input: %w", err)
		}
		if line == "" {
			return errEnd
		}
	}
	input := strings.TrimSpace(line)

	switch strings.ToLower(input) {
	case "quit", "exit":
		return errEnd
	case "skip":
		cli.segment++
		return nil
	case "joker":
		return cli.useJoker(ctx)
	}

	res, err := cli.reader.ValidateSegment(ctx, engine.ValidateSegmentRequest{
		UserID:  cli.userID,
		BookID:  cli.book.ID,
		Segment: cli.segment,
		Answer:  input,
	})
	if err != nil {
		return fmt.Errorf("ValidateSegment > %w", err)
	}
	if err := cli.printer.PrintValidation(cli.segment, res); err != nil {
		return err
	}
	switch res.Outcome {
	case engine.OutcomeSuccess, engine.OutcomeAlreadyValidated:
		cli.advance(res.Progress != nil && res.Progress.IsCompleted)
	case engine.OutcomeLocked:
		if !res.JokerOffered {
			cli.segment++
		}
	}
	return nil
}

func (cli *ReadingSessionCLI) useJoker(ctx context.Context) error {
	res, err := cli.reader.ConsumeJoker(ctx, engine.ConsumeJokerRequest{
		UserID:  cli.userID,
		BookID:  cli.book.ID,
		Segment: cli.segment,
	})
	if err != nil {
		return fmt.Errorf("ConsumeJoker > %w", err)
	}
	if err := cli.printer.PrintJoker(cli.segment, res); err != nil {
		return err
	}
	if res.Outcome == engine.OutcomeRevealed || res.Outcome == engine.OutcomeAlreadyValidated {
		cli.advance(res.Progress != nil && res.Progress.IsCompleted)
	}
	return nil
}

func (cli *ReadingSessionCLI) advance(completed bool) {
	cli.segment++
	cli.finished = completed
}
