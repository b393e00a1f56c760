package tool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/entity"
	domaintool "github.com/strandlabs/strand/internal/domain/tool"
)

// shellIdleTimeout closes the transcript once the worker goes quiet.
const shellIdleTimeout = 2 * time.Second

// ShellTool runs shell commands on a remote worker over WebSocket. The
// room is the thread id so consecutive commands in one conversation
// share worker state. Output is streamed live and the concatenated
// transcript becomes the Action result.
type ShellTool struct {
	workerURL string
	logger    *zap.Logger
}

// NewShellTool creates the handler; registered as "computer".
func NewShellTool(workerURL string, logger *zap.Logger) *ShellTool {
	return &ShellTool{workerURL: strings.TrimRight(workerURL, "/"), logger: logger}
}

func (t *ShellTool) Name() string          { return "computer" }
func (t *ShellTool) Kind() domaintool.Kind { return domaintool.KindExecute }

func (t *ShellTool) Execute(ctx context.Context, args map[string]any, inv *domaintool.Invocation) (*domaintool.Result, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return &domaintool.Result{Output: "Error: 'command' parameter is required", Success: false}, nil
	}
	elevated, _ := args["elevated"].(bool)

	q := url.Values{}
	q.Set("room", inv.ThreadID)
	if elevated {
		q.Set("elevated", "true")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.workerURL+"/shell?"+q.Encode(), nil)
	if err != nil {
		return &domaintool.Result{
			Output:  fmt.Sprintf("Shell worker unavailable: %v", err),
			Success: false,
			Error:   err.Error(),
		}, nil
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(command)); err != nil {
		return nil, fmt.Errorf("send command: %w", err)
	}

	// Read until the worker closes or goes idle.
	var transcript strings.Builder
	for {
		select {
		case <-ctx.Done():
			return &domaintool.Result{Output: transcript.String(), Success: false}, ctx.Err()
		default:
		}

		conn.SetReadDeadline(time.Now().Add(shellIdleTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if isIdleOrClose(err) {
				goto done
			}
			t.logger.Warn("Shell worker read error",
				zap.String("thread_id", inv.ThreadID), zap.Error(err))
			goto done
		}
		transcript.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			transcript.WriteByte('\n')
		}
		inv.Emit(string(entity.ChunkHotCodeOutput), string(data))
	}
done:

	out := strings.TrimSpace(transcript.String())
	if out == "" {
		out = "(no output)"
	}
	return &domaintool.Result{Output: out, Success: true}, nil
}

func isIdleOrClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
