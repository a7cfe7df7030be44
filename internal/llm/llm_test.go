package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// fakeChatModel is a model.BaseChatModel returning a canned reply.
type fakeChatModel struct {
	// reply is returned as the assistant content.
	reply string
	// err, when set, is returned from Generate.
	err error
	// got records the messages of the last Generate call.
	got []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.got = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestChatCompleter(t *testing.T) {
	t.Parallel()

	m := &fakeChatModel{reply: `["K"]`}
	c, err := NewChatCompleter(m, "be terse")
	if err != nil {
		t.Fatalf("NewChatCompleter: %v", err)
	}
	out, err := c.Complete(context.Background(), "classify this")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != `["K"]` {
		t.Errorf("Complete = %q", out)
	}
	if len(m.got) != 2 || m.got[0].Role != schema.System || m.got[1].Content != "classify this" {
		t.Errorf("unexpected messages: %+v", m.got)
	}
}

func TestChatCompleter_Errors(t *testing.T) {
	t.Parallel()

	if _, err := NewChatCompleter(nil, ""); err == nil {
		t.Error("expected error for nil model")
	}

	boom := errors.New("boom")
	c, _ := NewChatCompleter(&fakeChatModel{err: boom}, "")
	if _, err := c.Complete(context.Background(), "x"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}

	c, _ = NewChatCompleter(&fakeChatModel{reply: ""}, "")
	if _, err := c.Complete(context.Background(), "x"); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	type codes struct {
		Types []string `json:"relevant_test_types"`
	}

	tests := []struct {
		name string
		raw  string
		want []string
		ok   bool
	}{
		{"direct", `{"relevant_test_types":["K","P"]}`, []string{"K", "P"}, true},
		{"fenced", "```json\n{\"relevant_test_types\":[\"A\"]}\n```", []string{"A"}, true},
		{"prose around", `Sure! Here you go: {"relevant_test_types":["S"]} Hope that helps.`, []string{"S"}, true},
		{"brace in string", `note {"relevant_test_types":["}"]} end`, []string{"}"}, true},
		{"skips bad first candidate", `{broken} then {"relevant_test_types":["B"]}`, []string{"B"}, true},
		{"no json", "I cannot help with that", nil, false},
		{"unbalanced", `{"relevant_test_types":["K"`, nil, false},
		{"empty", "   ", nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := Decode[codes](tc.raw)
			if res.Ok() != tc.ok {
				t.Fatalf("Ok() = %v, want %v (err %v)", res.Ok(), tc.ok, res.Err)
			}
			if !tc.ok {
				if !errors.Is(res.Err, ErrParse) {
					t.Errorf("err = %v, want ErrParse", res.Err)
				}
				return
			}
			if len(res.Value.Types) != len(tc.want) {
				t.Fatalf("Types = %v, want %v", res.Value.Types, tc.want)
			}
			for i := range tc.want {
				if res.Value.Types[i] != tc.want[i] {
					t.Errorf("Types[%d] = %q, want %q", i, res.Value.Types[i], tc.want[i])
				}
			}
		})
	}
}

func TestDecode_Array(t *testing.T) {
	t.Parallel()

	res := Decode[[]map[string]any]("Ranked:\n[{\"assessment_name\":\"Java 8\"}]")
	if !res.Ok() || len(res.Value) != 1 {
		t.Fatalf("Decode = %+v", res)
	}
	if res.Value[0]["assessment_name"] != "Java 8" {
		t.Errorf("name = %v", res.Value[0]["assessment_name"])
	}
}

func TestCleanJSONBlock(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"```json\n[1]\n```": "[1]",
		"```\n{}\n```":      "{}",
		"  [2]  ":           "[2]",
		"```[3]```":         "[3]",
	}
	for in, want := range cases {
		if got := CleanJSONBlock(in); got != want {
			t.Errorf("CleanJSONBlock(%q) = %q, want %q", in, got, want)
		}
	}
}

// timedFake records which path CompleteWithin took.
type timedFake struct {
	CompleterFunc
	gotTimeout time.Duration
}

func (f *timedFake) CompleteWithin(_ context.Context, _ string, timeout time.Duration) (string, error) {
	f.gotTimeout = timeout
	return "timed", nil
}

func TestCompleteWithin(t *testing.T) {
	t.Parallel()

	blocking := CompleterFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	if _, err := CompleteWithin(context.Background(), blocking, "p", 10*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("plain completer: err = %v, want deadline exceeded", err)
	}

	f := &timedFake{}
	out, err := CompleteWithin(context.Background(), f, "p", 5*time.Second)
	if err != nil || out != "timed" {
		t.Fatalf("CompleteWithin = %q, %v", out, err)
	}
	if f.gotTimeout != 5*time.Second {
		t.Errorf("timeout handed over = %v, want 5s", f.gotTimeout)
	}
}
