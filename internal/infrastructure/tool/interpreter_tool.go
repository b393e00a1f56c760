package tool

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/entity"
	domaintool "github.com/strandlabs/strand/internal/domain/tool"
)

// sandboxMessage is one frame from the interpreter sandbox.
type sandboxMessage struct {
	Type     string `json:"type"` // stdout | stderr | file | done | error
	Data     string `json:"data,omitempty"`
	FileID   string `json:"file_id,omitempty"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// CodeInterpreterTool streams code execution from a remote sandbox over
// WebSocket. Each output line is forwarded live as hot_code_output;
// generated files are fetched as base64 and emitted one
// code_interpreter_stream chunk per file. The Action result is the
// aggregated transcript.
type CodeInterpreterTool struct {
	sandboxURL string // ws:// or wss:// endpoint
	filesURL   string // http(s) base for file downloads
	client     *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// NewCodeInterpreterTool creates the handler.
func NewCodeInterpreterTool(sandboxURL, filesURL string, logger *zap.Logger) *CodeInterpreterTool {
	return &CodeInterpreterTool{
		sandboxURL: strings.TrimRight(sandboxURL, "/"),
		filesURL:   strings.TrimRight(filesURL, "/"),
		client:     &http.Client{Timeout: 30 * time.Second},
		timeout:    120 * time.Second,
		logger:     logger,
	}
}

func (t *CodeInterpreterTool) Name() string          { return "code_interpreter" }
func (t *CodeInterpreterTool) Kind() domaintool.Kind { return domaintool.KindExecute }

func (t *CodeInterpreterTool) Execute(ctx context.Context, args map[string]any, inv *domaintool.Invocation) (*domaintool.Result, error) {
	code, _ := args["code"].(string)
	if code == "" {
		return &domaintool.Result{Output: "Error: 'code' parameter is required", Success: false}, nil
	}
	language, _ := args["language"].(string)
	if language == "" {
		language = "python"
	}

	// Announce the code being executed before any sandbox output.
	inv.Emit(string(entity.ChunkHotCode), fmt.Sprintf("```%s\n%s\n```", language, code))

	dialCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, t.sandboxURL+"/execute?run_id="+inv.RunID, nil)
	if err != nil {
		return &domaintool.Result{
			Output:  fmt.Sprintf("Sandbox unavailable: %v", err),
			Success: false,
			Error:   err.Error(),
		}, nil
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"code": code, "language": language}); err != nil {
		return nil, fmt.Errorf("send code to sandbox: %w", err)
	}

	var transcript strings.Builder
	var files []sandboxMessage
	for {
		select {
		case <-dialCtx.Done():
			return &domaintool.Result{
				Output:  transcript.String() + "\n[execution timed out]",
				Success: false,
			}, nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(t.timeout))
		var msg sandboxMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || err == io.EOF {
				break
			}
			t.logger.Warn("Sandbox read error", zap.String("run_id", inv.RunID), zap.Error(err))
			break
		}

		switch msg.Type {
		case "stdout", "stderr":
			transcript.WriteString(msg.Data)
			if !strings.HasSuffix(msg.Data, "\n") {
				transcript.WriteByte('\n')
			}
			inv.Emit(string(entity.ChunkHotCodeOutput), msg.Data)
		case "file":
			files = append(files, msg)
		case "error":
			transcript.WriteString("error: " + msg.Data + "\n")
			inv.Emit(string(entity.ChunkHotCodeOutput), "error: "+msg.Data)
		case "done":
			goto finished
		}
	}
finished:

	for _, f := range files {
		t.emitFile(ctx, f, inv, &transcript)
	}

	out := strings.TrimSpace(transcript.String())
	if out == "" {
		out = "(no output)"
	}
	return &domaintool.Result{Output: out, Success: true}, nil
}

// emitFile fetches one generated file as base64 and streams it. Fetch
// failures degrade to a note in the transcript.
func (t *CodeInterpreterTool) emitFile(ctx context.Context, f sandboxMessage, inv *domaintool.Invocation, transcript *strings.Builder) {
	encoded := f.Data
	if encoded == "" && f.FileID != "" {
		fetched, err := t.fetchFile(ctx, f.FileID)
		if err != nil {
			t.logger.Warn("Interpreter file fetch failed",
				zap.String("file_id", f.FileID), zap.Error(err))
			fmt.Fprintf(transcript, "[file %s could not be fetched: %v]\n", f.Filename, err)
			return
		}
		encoded = fetched
	}

	inv.Emit(string(entity.ChunkCodeInterpreter), entity.InterpreterFile{
		Filename: f.Filename,
		FileID:   f.FileID,
		Base64:   encoded,
		MimeType: f.MimeType,
	})
	fmt.Fprintf(transcript, "[generated file: %s]\n", f.Filename)
}

func (t *CodeInterpreterTool) fetchFile(ctx context.Context, fileID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.filesURL+"/files/"+fileID, nil)
	if err != nil {
		return "", err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("file fetch status %d", resp.StatusCode)
	}

	// Workers may answer raw bytes or a JSON envelope with base64.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return "", err
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var envelope struct {
			Base64 string `json:"base64"`
		}
		if err := json.Unmarshal(body, &envelope); err == nil && envelope.Base64 != "" {
			return envelope.Base64, nil
		}
	}
	return base64.StdEncoding.EncodeToString(body), nil
}
