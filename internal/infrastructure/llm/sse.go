package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/service"
)

// sseIdleTimeout bounds the gap between upstream reads. Three-tier
// termination: finish_reason breaks immediately (some gateways never
// send [DONE]), the idle timeout catches stalled connections, and the
// per-run context bounds the whole stream.
const sseIdleTimeout = 60 * time.Second

var errIdleTimeout = errors.New("sse read idle timeout")

// parseSSE reads a text/event-stream body and pushes one service.Delta
// per decoded chunk. It returns when the stream finishes, stalls, or
// ctx is cancelled.
func parseSSE(ctx context.Context, body io.Reader, out chan<- service.Delta, logger *zap.Logger) error {
	tr := &timedReader{r: body, timeout: sseIdleTimeout}
	scanner := bufio.NewScanner(tr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	sawData := false
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return nil
		}

		var chunk StreamChunkData
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			logger.Debug("Skip unparseable SSE chunk", zap.Error(err))
			continue
		}
		if chunk.Error != nil {
			return fmt.Errorf("upstream error: %s", chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		sawData = true

		choice := chunk.Choices[0]
		delta := service.Delta{
			Content:          choice.Delta.Content,
			ReasoningContent: choice.Delta.ReasoningContent,
		}
		for _, tc := range choice.Delta.ToolCalls {
			delta.ToolCalls = append(delta.ToolCalls, service.ToolCallDelta{
				Index:     tc.Index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		if choice.FinishReason != nil {
			delta.FinishReason = *choice.FinishReason
		}

		select {
		case out <- delta:
		case <-ctx.Done():
			return ctx.Err()
		}

		// Break on finish_reason without waiting for [DONE].
		if delta.FinishReason != "" {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, errIdleTimeout) {
			if !sawData {
				return fmt.Errorf("stream stalled: no data for %v", sseIdleTimeout)
			}
			logger.Warn("Stream idle timeout, returning partial response")
			return nil
		}
		return fmt.Errorf("sse scan: %w", err)
	}
	return nil
}

// timedReader applies a per-Read deadline to an io.Reader.
type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()

	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, errIdleTimeout
	}
}
