package agent

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

var (
	reChannel     = regexp.MustCompile(`#[\w-]+`)
	reMessageBody = regexp.MustCompile(`(?i)\b(?:saying|that says|that|:)\s+(.+)$`)
	reAskForSelf  = regexp.MustCompile(`(?i)\b(?:(?:tell|send|notify|ping)\s+me|let\s+me\s+know)\b`)
	reSendVerb    = regexp.MustCompile(`(?i)\b(?:send|tell|notify|forward|ping|dm|post\s+(?:it|this|that|to|in|on)|reply\s+to|let\s+\S+\s+know)\b|\bmessage\s+[#@]`)
)

// AsksToSend reports whether instruction explicitly asks for something to
// be sent. Nouns such as "email" or "message" alone do not count, and
// neither does "tell me".
func AsksToSend(instruction string) bool {
	return reSendVerb.MatchString(reAskForSelf.ReplaceAllString(instruction, ""))
}

// Communicator sends messages on the user's behalf. Without explicit text
// in the instruction, upstream results are sent as the body, but only when
// the instruction asks for a send.
type Communicator struct{ deps Deps }

func NewCommunicator(d Deps) *Communicator { return &Communicator{deps: d} }

func (c *Communicator) Kind() Kind { return KindCommunicator }

func (c *Communicator) Run(ctx context.Context, ac Context, task Task) DelegationResult {
	r := newRun(c.deps, ac, KindCommunicator)
	text := param(task, "text")
	if text == "" && !AsksToSend(task.Instruction) {
		return r.fail(errors.New("nothing to send: the request does not ask for a message"))
	}
	if text == "" {
		if m := reMessageBody.FindStringSubmatch(task.Instruction); m != nil {
			text = strings.TrimSpace(m[1])
		}
	}
	if text == "" {
		text = upstreamText(task)
	}
	if text == "" {
		return r.fail(errors.New("nothing to send: no message text"))
	}
	channel := param(task, "channel")
	if channel == "" {
		channel = reChannel.FindString(task.Instruction)
	}

	body := r.phrase(ctx, "Rewrite this as a short, friendly Slack message.", text)
	res, err := r.invoke(ctx, "slack_send_message", map[string]any{"channel": channel, "text": body})
	if err != nil {
		return r.fail(err)
	}
	return r.success(res.Output)
}
