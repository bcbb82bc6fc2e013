package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestCallbackRegistryDispatch(t *testing.T) {
	reg := NewCallbackRegistry(testLogger())

	var gotResult string
	var gotPassBack map[string]any
	reg.Register("server", "originate_call_response", func(_ SystemContext, result json.RawMessage, passBack map[string]any) error {
		gotResult = string(result)
		gotPassBack = passBack
		return nil
	})

	err := reg.Dispatch(context.Background(), "server", "originate_call_response",
		json.RawMessage(`{"Response":"Error"}`), map[string]any{"channel_id": "abc"})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if gotResult != `{"Response":"Error"}` {
		t.Errorf("result = %s", gotResult)
	}
	if gotPassBack["channel_id"] != "abc" {
		t.Errorf("pass_back = %v", gotPassBack)
	}
}

func TestCallbackRegistryUnknownTarget(t *testing.T) {
	reg := NewCallbackRegistry(testLogger())

	err := reg.Dispatch(context.Background(), "os", "remove", nil, nil)
	if err == nil {
		t.Fatal("expected error for unregistered target")
	}
}

func TestCallbackRegistryHandlerErrorNotPropagated(t *testing.T) {
	reg := NewCallbackRegistry(testLogger())
	reg.Register("recording", "upload_recording", func(SystemContext, json.RawMessage, map[string]any) error {
		return errors.New("boom")
	})

	if err := reg.Dispatch(context.Background(), "recording", "upload_recording", nil, nil); err != nil {
		t.Errorf("handler error should not propagate, got %v", err)
	}
}

func TestCallbackRegistryHandlerPanicRecovered(t *testing.T) {
	reg := NewCallbackRegistry(testLogger())
	reg.Register("recording", "upload_recording", func(SystemContext, json.RawMessage, map[string]any) error {
		panic("boom")
	})

	if err := reg.Dispatch(context.Background(), "recording", "upload_recording", nil, nil); err != nil {
		t.Errorf("panic should be recovered, got %v", err)
	}
}

func TestCallbackRegistryDuplicateRegistrationPanics(t *testing.T) {
	reg := NewCallbackRegistry(testLogger())
	fn := func(SystemContext, json.RawMessage, map[string]any) error { return nil }
	reg.Register("server", "originate_call_response", fn)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	reg.Register("server", "originate_call_response", fn)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantFun string
		wantErr bool
	}{
		{"bare", "test.ping", "test.ping", false},
		{"with args", `asterisk.manager_action [{"Action":"Ping"}]`, "asterisk.manager_action", false},
		{"with kwargs", `asterisk.manager_action {"as_list":true}`, "asterisk.manager_action", false},
		{"args and kwargs", `test.echo ["hi"] {"upper":true}`, "test.echo", false},
		{"no dot", "ping", "", true},
		{"empty", "   ", "", true},
		{"bad json", `test.echo [not-json`, "", true},
		{"trailing garbage", `test.echo ["hi"] {"a":1} junk`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fun, _, _, err := ParseCommand(tt.line)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseCommand(%q) succeeded, want error", tt.line)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand(%q) error: %v", tt.line, err)
			}
			if fun != tt.wantFun {
				t.Errorf("fun = %q, want %q", fun, tt.wantFun)
			}
		})
	}
}

func TestParseCommandValues(t *testing.T) {
	_, args, kwargs, err := ParseCommand(`test.echo ["hello", 2] {"upper": true}`)
	if err != nil {
		t.Fatalf("ParseCommand() error: %v", err)
	}
	a, ok := args.([]any)
	if !ok || len(a) != 2 || a[0] != "hello" {
		t.Errorf("args = %v", args)
	}
	if kwargs["upper"] != true {
		t.Errorf("kwargs = %v", kwargs)
	}
}
