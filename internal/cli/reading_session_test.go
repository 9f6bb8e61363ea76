package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/at-ishikawa/readingquest/internal/catalog"
	"github.com/at-ishikawa/readingquest/internal/engine"
	mock_catalog "github.com/at-ishikawa/readingquest/internal/mocks/catalog"
	mock_cli "github.com/at-ishikawa/readingquest/internal/mocks/cli"
	"github.com/at-ishikawa/readingquest/internal/progress"
)

var sessionBook = catalog.Book{ID: "dune", Title: "Dune", ExpectedSegments: 2}

func expectQuestions(questions *mock_catalog.MockQuestionCatalog) {
	questions.EXPECT().
		Question(gomock.Any(), "dune", gomock.Any()).
		DoAndReturn(func(_ context.Context, bookID string, segment int) (catalog.Question, error) {
			return catalog.Question{ID: "q", Segment: segment, Prompt: "Who rules Arrakis?", Answer: "answer"}, nil
		}).
		AnyTimes()
}

func TestReadingSessionCLI_Run(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		setup      func(reader *mock_cli.MockReader)
		wantOutput []string
	}{
		{
			name:  "answers every segment",
			input: "wrong\nanswer\nanswer\n",
			setup: func(reader *mock_cli.MockReader) {
				gomock.InOrder(
					reader.EXPECT().
						ValidateSegment(gomock.Any(), engine.ValidateSegmentRequest{UserID: "u1", BookID: "dune", Segment: 1, Answer: "wrong"}).
						Return(engine.ValidateSegmentResult{Outcome: engine.OutcomeIncorrect, AttemptsRemaining: 2}, nil),
					reader.EXPECT().
						ValidateSegment(gomock.Any(), engine.ValidateSegmentRequest{UserID: "u1", BookID: "dune", Segment: 1, Answer: "answer"}).
						Return(engine.ValidateSegmentResult{Outcome: engine.OutcomeSuccess, XPGained: 10}, nil),
					reader.EXPECT().
						ValidateSegment(gomock.Any(), engine.ValidateSegmentRequest{UserID: "u1", BookID: "dune", Segment: 2, Answer: "answer"}).
						Return(engine.ValidateSegmentResult{
							Outcome:  engine.OutcomeSuccess,
							XPGained: 60,
							Progress: &progress.Projection{BookID: "dune", ValidatedSegmentCount: 2, TotalSegments: 2, ProgressPercent: 100, IsCompleted: true},
						}, nil),
				)
			},
			wantOutput: []string{
				"❌ Wrong answer. 2 attempt(s) remaining",
				"✅ Segment 1 validated (+10 XP)",
				"✅ Segment 2 validated (+60 XP)",
				"🎉 You reached the end of Dune",
			},
		},
		{
			name:  "joker then quit",
			input: "joker\nquit\n",
			setup: func(reader *mock_cli.MockReader) {
				reader.EXPECT().
					ConsumeJoker(gomock.Any(), engine.ConsumeJokerRequest{UserID: "u1", BookID: "dune", Segment: 1}).
					Return(engine.ConsumeJokerResult{Outcome: engine.OutcomeRevealed, Answer: "answer", Remaining: 0}, nil)
			},
			wantOutput: []string{
				`The answer of segment 1 is "answer"`,
				"Segment 2/2: Who rules Arrakis?",
			},
		},
		{
			name:  "locked segment keeps the joker within reach",
			input: "wrong\njoker\nquit\n",
			setup: func(reader *mock_cli.MockReader) {
				gomock.InOrder(
					reader.EXPECT().
						ValidateSegment(gomock.Any(), engine.ValidateSegmentRequest{UserID: "u1", BookID: "dune", Segment: 1, Answer: "wrong"}).
						Return(engine.ValidateSegmentResult{Outcome: engine.OutcomeLocked, RemainingSeconds: 600, JokerOffered: true}, nil),
					reader.EXPECT().
						ConsumeJoker(gomock.Any(), engine.ConsumeJokerRequest{UserID: "u1", BookID: "dune", Segment: 1}).
						Return(engine.ConsumeJokerResult{Outcome: engine.OutcomeRevealed, Answer: "answer", Remaining: 0}, nil),
				)
			},
			wantOutput: []string{
				"🔒 Segment 1 is locked for 10m00s",
				"A joker is available to reveal the answer",
				`The answer of segment 1 is "answer"`,
			},
		},
		{
			name:  "skip and end of input",
			input: "skip\n",
			setup: func(reader *mock_cli.MockReader) {},
			wantOutput: []string{
				"Segment 1/2: Who rules Arrakis?",
				"Segment 2/2: Who rules Arrakis?",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			color.NoColor = true
			defer func() { color.NoColor = false }()

			ctrl := gomock.NewController(t)
			reader := mock_cli.NewMockReader(ctrl)
			questions := mock_catalog.NewMockQuestionCatalog(ctrl)
			expectQuestions(questions)
			tt.setup(reader)

			var out bytes.Buffer
			session := NewReadingSessionCLI(reader, questions, "u1", sessionBook, 1, strings.NewReader(tt.input), &out)
			require.NoError(t, session.Run(context.Background()))
			for _, want := range tt.wantOutput {
				assert.Contains(t, out.String(), want)
			}
		})
	}
}

func TestReadingSessionCLI_RunReturnsEngineErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := mock_cli.NewMockReader(ctrl)
	questions := mock_catalog.NewMockQuestionCatalog(ctrl)
	expectQuestions(questions)

	wantErr := errors.New("database is locked")
	reader.EXPECT().ValidateSegment(gomock.Any(), gomock.Any()).Return(engine.ValidateSegmentResult{}, wantErr)

	session := NewReadingSessionCLI(reader, questions, "u1", sessionBook, 1, strings.NewReader("answer\n"), &bytes.Buffer{})
	err := session.Run(context.Background())
	assert.ErrorIs(t, err, wantErr)
}
