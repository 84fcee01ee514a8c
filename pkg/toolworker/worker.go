// Package toolworker is the minimal subprocess entry point the tool
// runner spawns for every tool call. It looks up the tool, runs it, and
// serializes the result. It has no network, no database, and no
// knowledge of grants or policy: the parent gates whether it is ever
// invoked at all, so the worker cannot escalate, only perform the narrow
// operation its name implies.
package toolworker

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/odvcencio/warden/pkg/tools"
)

type request struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

type response struct {
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Trace  string `json:"trace,omitempty"`
}

// Run reads exactly one request from stdin and writes exactly one
// response to stdout, per the parent/child protocol. Any failure short of
// an I/O error on stdout itself is reported as an {"ok":false} response
// rather than a non-zero exit, so the parent always has a response to
// parse when the process exits cleanly.
func Run(stdin io.Reader, stdout io.Writer, registry *tools.PluginRegistry) error {
	data, err := io.ReadAll(stdin)
	if err != nil {
		return writeResponse(stdout, response{OK: false, Error: fmt.Sprintf("read request: %v", err)})
	}

	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		return writeResponse(stdout, response{OK: false, Error: fmt.Sprintf("parse request: %v", err)})
	}

	plugin, ok := registry.Get(req.Tool)
	if !ok {
		return writeResponse(stdout, response{OK: false, Error: fmt.Sprintf("unknown tool %q", req.Tool)})
	}

	result, err := safeExecute(plugin, req.Args)
	if err != nil {
		return writeResponse(stdout, response{OK: false, Error: err.Error()})
	}
	return writeResponse(stdout, response{OK: true, Result: result})
}

func safeExecute(plugin tools.Plugin, args map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return plugin.Execute(args)
}

func writeResponse(w io.Writer, resp response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
