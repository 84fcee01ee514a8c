// Command warden is the local authorization and containment backend: it
// holds the permission grant store, the policy guard, and the tool runner
// that isolates every model-driven tool call in a sandboxed subprocess.
// This binary is the operator's CLI onto that state; the worker subprocess
// it spawns per tool call lives in the sibling warden-worker binary.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/odvcencio/warden/pkg/encoding/toon"
	"github.com/odvcencio/warden/pkg/guard"
	"github.com/odvcencio/warden/pkg/metrics"
	"github.com/odvcencio/warden/pkg/permission"
	"github.com/odvcencio/warden/pkg/storage"
	"github.com/odvcencio/warden/pkg/telemetry"
	"github.com/odvcencio/warden/pkg/toolrunner"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cmd, rest := args[0], args[1:]
	var err error
	switch cmd {
	case "--help", "-h", "help":
		printUsage()
		return
	case "grant":
		err = runGrantCommand(rest)
	case "revoke":
		err = runRevokeCommand(rest)
	case "run-tool":
		err = runRunToolCommand(rest)
	case "secret":
		err = runSecretCommand(rest)
	case "profile":
		err = runProfileCommand(rest)
	case "workspace":
		err = runWorkspaceCommand(rest)
	case "serve":
		err = runServeCommand(rest)
	case "config":
		err = runConfigCommand(rest)
	case "run":
		err = runRunCommand(rest)
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeForError(err))
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: warden <command> [flags]

commands:
  grant       grant a permission for a session or always
  revoke      revoke a permission grant
  run-tool    run one tool plugin through the guard and sandboxed worker
  secret      put/get/delete/list encrypted secrets
  profile     create/activate/list profiles
  workspace   create/activate/list workspaces
  serve       run the ambient /metrics and /healthz diagnostics server
  config      show the effective configuration
  run         show a recorded run and its ordered events`)
}

func runRunCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	id := fs.String("id", "", "run id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*id) == "" {
		return withExitCode(fmt.Errorf("usage: warden run --id <run-id>"), 2)
	}

	d, err := initDependencies()
	if err != nil {
		return withExitCode(err, 2)
	}
	defer d.Close()

	run, events, err := d.runlog.GetRun(*id)
	if err != nil {
		return err
	}
	if run == nil {
		return withExitCode(fmt.Errorf("no run %q", *id), 1)
	}

	out, err := json.MarshalIndent(map[string]any{"run": run, "events": events}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runGrantCommand(args []string) error {
	fs := flag.NewFlagSet("grant", flag.ContinueOnError)
	perm := fs.String("permission", "", "permission to grant (filesystem.read, filesystem.write, web.search, screen.capture, clipboard.read, clipboard.write, process.run)")
	scope := fs.String("scope", "session", "grant scope: once, session, always")
	session := fs.String("session", "", "session id (ignored for scope=always)")
	pathsFlag := fs.String("paths", "", "comma-separated allowed path scopes (empty means unscoped)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*perm) == "" {
		return withExitCode(fmt.Errorf("usage: warden grant --permission <perm> --scope <once|session|always> [--session id] [--paths a,b]"), 2)
	}

	d, err := initDependencies()
	if err != nil {
		return withExitCode(err, 2)
	}
	defer d.Close()

	var scopePaths []string
	if strings.TrimSpace(*pathsFlag) != "" {
		scopePaths = strings.Split(*pathsFlag, ",")
	}

	if err := d.broker.Grant(permission.Type(*perm), permission.Scope(*scope), *session, scopePaths); err != nil {
		return err
	}
	fmt.Printf("granted %s (%s) to session=%q paths=%v\n", *perm, *scope, *session, scopePaths)
	return nil
}

func runRevokeCommand(args []string) error {
	fs := flag.NewFlagSet("revoke", flag.ContinueOnError)
	perm := fs.String("permission", "", "permission to revoke")
	session := fs.String("session", "", "session id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*perm) == "" {
		return withExitCode(fmt.Errorf("usage: warden revoke --permission <perm> [--session id]"), 2)
	}

	d, err := initDependencies()
	if err != nil {
		return withExitCode(err, 2)
	}
	defer d.Close()

	if err := d.broker.Revoke(permission.Type(*perm), *session); err != nil {
		return err
	}
	fmt.Printf("revoked %s for session=%q\n", *perm, *session)
	return nil
}

func runRunToolCommand(args []string) error {
	fs := flag.NewFlagSet("run-tool", flag.ContinueOnError)
	tool := fs.String("tool", "", "tool plugin name (file_read, file_list, file_read_batch, file_write)")
	session := fs.String("session", "", "session id")
	mode := fs.String("mode", string(guard.ModeChat), "guard mode: chat or workflow")
	argsJSON := fs.String("args", "{}", "JSON object of tool arguments")
	safeMode := fs.Bool("safe-mode", true, "block elevated permissions while true")
	confirmed := fs.Bool("confirmed", false, "caller has confirmed an 'unless confirm' policy condition")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*tool) == "" {
		return withExitCode(fmt.Errorf("usage: warden run-tool --tool <name> --session <id> [--args '{...}']"), 2)
	}

	var toolArgs map[string]any
	if err := json.Unmarshal([]byte(*argsJSON), &toolArgs); err != nil {
		return withExitCode(fmt.Errorf("parse --args: %w", err), 2)
	}

	d, err := initDependencies()
	if err != nil {
		return withExitCode(err, 2)
	}
	defer d.Close()

	ctx := context.Background()
	result, err := d.runner.Run(ctx, toolrunner.Request{
		Tool:      *tool,
		Args:      toolArgs,
		SessionID: *session,
		Mode:      guard.Mode(*mode),
		SafeMode:  *safeMode,
		Confirmed: *confirmed,
	})
	if err != nil {
		return err
	}

	envelope := map[string]any{
		"result":      result.Value,
		"result_hash": result.ResultHash,
		"quarantined": result.Quarantined,
	}

	codec := toon.New(strings.EqualFold(os.Getenv("WARDEN_RESULT_ENCODING"), "toon"))
	out, err := codec.Marshal(envelope)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runSecretCommand(args []string) error {
	sub := ""
	if len(args) > 0 {
		sub = args[0]
		args = args[1:]
	}

	d, err := initDependencies()
	if err != nil {
		return withExitCode(err, 2)
	}
	defer d.Close()

	switch sub {
	case "put":
		fs := flag.NewFlagSet("secret put", flag.ContinueOnError)
		key := fs.String("key", "", "secret key name")
		value := fs.String("value", "", "plaintext value to encrypt and store")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if strings.TrimSpace(*key) == "" {
			return withExitCode(fmt.Errorf("usage: warden secret put --key <name> --value <plaintext>"), 2)
		}
		return d.secrets.Put(*key, *value)
	case "get":
		fs := flag.NewFlagSet("secret get", flag.ContinueOnError)
		key := fs.String("key", "", "secret key name")
		if err := fs.Parse(args); err != nil {
			return err
		}
		value, ok, err := d.secrets.Get(*key)
		if err != nil {
			return err
		}
		if !ok {
			return withExitCode(fmt.Errorf("no secret named %q", *key), 1)
		}
		fmt.Println(value)
		return nil
	case "delete":
		fs := flag.NewFlagSet("secret delete", flag.ContinueOnError)
		key := fs.String("key", "", "secret key name")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return d.secrets.Delete(*key)
	case "list":
		keys, err := d.secrets.ListKeys()
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil
	default:
		return withExitCode(fmt.Errorf("usage: warden secret <put|get|delete|list>"), 2)
	}
}

func runProfileCommand(args []string) error {
	sub := ""
	if len(args) > 0 {
		sub = args[0]
		args = args[1:]
	}

	d, err := initDependencies()
	if err != nil {
		return withExitCode(err, 2)
	}
	defer d.Close()

	switch sub {
	case "create":
		fs := flag.NewFlagSet("profile create", flag.ContinueOnError)
		id := fs.String("id", "", "profile id")
		name := fs.String("name", "", "profile name")
		policyText := fs.String("policy", "", "policy DSL text")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *id == "" || *name == "" {
			return withExitCode(fmt.Errorf("usage: warden profile create --id <id> --name <name> [--policy <text>]"), 2)
		}
		return d.store.CreateProfile(storage.Profile{
			ID:        *id,
			Name:      *name,
			Version:   1,
			Settings:  map[string]any{"policy_text": *policyText},
			CreatedAt: time.Now().UTC(),
		})
	case "activate":
		fs := flag.NewFlagSet("profile activate", flag.ContinueOnError)
		id := fs.String("id", "", "profile id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := d.store.ActivateProfile(*id); err != nil {
			return err
		}
		d.ident.Invalidate()
		return nil
	case "list":
		profiles, err := d.store.ListProfiles()
		if err != nil {
			return err
		}
		for _, p := range profiles {
			fmt.Printf("%s\t%s\tactive=%v\n", p.ID, p.Name, p.IsActive)
		}
		return nil
	default:
		return withExitCode(fmt.Errorf("usage: warden profile <create|activate|list>"), 2)
	}
}

func runWorkspaceCommand(args []string) error {
	sub := ""
	if len(args) > 0 {
		sub = args[0]
		args = args[1:]
	}

	d, err := initDependencies()
	if err != nil {
		return withExitCode(err, 2)
	}
	defer d.Close()

	switch sub {
	case "create":
		fs := flag.NewFlagSet("workspace create", flag.ContinueOnError)
		id := fs.String("id", "", "workspace id")
		name := fs.String("name", "", "workspace name")
		scopes := fs.String("scopes", "", "comma-separated allowed path scopes")
		tools := fs.String("tools", "", "comma-separated allowed tool names (empty means unrestricted)")
		defaultProfile := fs.String("default-profile", "", "profile id to activate alongside this workspace")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *id == "" || *name == "" {
			return withExitCode(fmt.Errorf("usage: warden workspace create --id <id> --name <name> [--scopes a,b] [--tools a,b]"), 2)
		}
		var scopeList, toolList []string
		if strings.TrimSpace(*scopes) != "" {
			scopeList = strings.Split(*scopes, ",")
		}
		if strings.TrimSpace(*tools) != "" {
			toolList = strings.Split(*tools, ",")
		}
		return d.store.CreateWorkspace(storage.Workspace{
			ID:                *id,
			Name:              *name,
			AllowedPathScopes: scopeList,
			AllowedToolNames:  toolList,
			SettingsOverrides: map[string]any{},
			DefaultProfileID:  *defaultProfile,
			CreatedAt:         time.Now().UTC(),
		})
	case "activate":
		fs := flag.NewFlagSet("workspace activate", flag.ContinueOnError)
		id := fs.String("id", "", "workspace id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := d.store.ActivateWorkspace(*id); err != nil {
			return err
		}
		// Activating a workspace that names a default profile also
		// activates that profile (SPEC_FULL.md workspace lifecycle).
		ws, err := d.store.GetWorkspace(*id)
		if err == nil && ws != nil && ws.DefaultProfileID != "" {
			_ = d.store.ActivateProfile(ws.DefaultProfileID)
		}
		d.ident.Invalidate()
		return nil
	case "list":
		workspaces, err := d.store.ListWorkspaces()
		if err != nil {
			return err
		}
		for _, w := range workspaces {
			fmt.Printf("%s\t%s\tactive=%v\n", w.ID, w.Name, w.IsActive)
		}
		return nil
	default:
		return withExitCode(fmt.Errorf("usage: warden workspace <create|activate|list>"), 2)
	}
}

func runConfigCommand(args []string) error {
	d, err := initDependencies()
	if err != nil {
		return withExitCode(err, 2)
	}
	defer d.Close()

	out, err := json.MarshalIndent(d.cfg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runServeCommand(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	bind := fs.String("bind", "127.0.0.1:9469", "loopback address for the /metrics and /healthz diagnostics mux")
	if err := fs.Parse(args); err != nil {
		return err
	}

	d, err := initDependencies()
	if err != nil {
		return withExitCode(err, 2)
	}
	defer d.Close()

	tp, err := telemetry.NewProvider("warden")
	if err != nil {
		return err
	}
	defer tp.Shutdown(context.Background())

	srv, err := metrics.NewServer(*bind)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("warden diagnostics listening on %s (/metrics, /healthz)\n", srv.Addr())
	return srv.Serve(ctx)
}
