package servers

import (
	"context"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"remote-projects/pkg/remote"
)

// attemptPromptMsg carries a prompt raised by the attempt identified by seq.
type attemptPromptMsg struct {
	seq    int
	prompt remote.Prompt
}

// attemptDoneMsg carries the outcome of the attempt identified by seq.
type attemptDoneMsg struct {
	seq     int
	session remote.Session
	err     error
}

// attempt is a connection running on its own goroutine. The model owns it through the mode
// that started it; replacing that mode must call cancel.
type attempt struct {
	seq    int
	opts   remote.ConnectionOptions
	cancel context.CancelFunc
	bridge *promptBridge

	prompt *remote.Prompt
	answer textinput.Model
}

// promptBridge is the PromptSink handed to the Connector. Prompts travel to the model over
// msgs; answers come back over answers.
type promptBridge struct {
	seq     int
	ctx     context.Context
	msgs    chan tea.Msg
	answers chan string
}

func (b *promptBridge) Prompt(ctx context.Context, p remote.Prompt) (string, error) {
	select {
	case b.msgs <- attemptPromptMsg{seq: b.seq, prompt: p}:
	case <-ctx.Done():
		return "", remote.ErrPromptCancelled
	case <-b.ctx.Done():
		return "", remote.ErrPromptCancelled
	}
	select {
	case answer := <-b.answers:
		return answer, nil
	case <-ctx.Done():
		return "", remote.ErrPromptCancelled
	case <-b.ctx.Done():
		return "", remote.ErrPromptCancelled
	}
}

// wait returns the next message from the attempt, or nil once it has been cancelled.
func (b *promptBridge) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-b.msgs:
			return msg
		case <-b.ctx.Done():
			return nil
		}
	}
}

// beginAttempt starts connecting to opts. The returned command delivers the first message.
func beginAttempt(parent context.Context, seq int, c remote.Connector, opts remote.ConnectionOptions) (*attempt, tea.Cmd) {
	ctx, cancel := context.WithCancel(parent)
	b := &promptBridge{
		seq:     seq,
		ctx:     ctx,
		msgs:    make(chan tea.Msg),
		answers: make(chan string, 1),
	}
	go func() {
		sess, err := c.Connect(ctx, opts, b)
		if err == nil && ctx.Err() != nil {
			_ = sess.Close()
			return
		}
		select {
		case b.msgs <- attemptDoneMsg{seq: seq, session: sess, err: err}:
		case <-ctx.Done():
			if sess != nil {
				_ = sess.Close()
			}
		}
	}()
	return &attempt{seq: seq, opts: opts, cancel: cancel, bridge: b}, b.wait()
}

func (a *attempt) pending() (remote.Prompt, bool) {
	if a == nil || a.prompt == nil {
		return remote.Prompt{}, false
	}
	return *a.prompt, true
}

// showPrompt stores p and prepares the answer field for it.
func (a *attempt) showPrompt(p remote.Prompt) tea.Cmd {
	a.prompt = &p
	in := textinput.New()
	in.Prompt = "> "
	in.CharLimit = 1024
	if !p.Echo {
		in.EchoMode = textinput.EchoPassword
		in.EchoCharacter = '•'
	}
	a.answer = in
	return a.answer.Focus()
}

// submit hands the current answer to the attempt and resumes waiting for its next message.
func (a *attempt) submit() tea.Cmd {
	if a.prompt == nil {
		return nil
	}
	answer := a.answer.Value()
	a.prompt = nil
	a.answer = textinput.Model{}
	select {
	case a.bridge.answers <- answer:
	default:
	}
	return a.bridge.wait()
}

func (a *attempt) stop() {
	if a != nil && a.cancel != nil {
		a.cancel()
	}
}
