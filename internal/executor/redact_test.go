package executor

import "testing"

func TestRedact(t *testing.T) {
	params := map[string]any{
		"title":        "Deploy",
		"password":     "hunter2",
		"SlackToken":   "xoxb-1",
		"clientSecret": "s",
		"ApiKey":       "k",
		"credentials":  map[string]any{"user": "a"},
		"nested": map[string]any{
			"api_key": "k2",
			"keep":    1,
			"list":    []any{map[string]any{"accessToken": "t"}, "plain"},
		},
	}

	out := Redact(params)
	for _, key := range []string{"password", "SlackToken", "clientSecret", "ApiKey", "credentials"} {
		if out[key] != Redacted {
			t.Errorf("%s = %v, want redacted", key, out[key])
		}
	}
	if out["title"] != "Deploy" {
		t.Errorf("title = %v", out["title"])
	}
	nested := out["nested"].(map[string]any)
	if nested["api_key"] != Redacted || nested["keep"] != 1 {
		t.Errorf("nested = %v", nested)
	}
	item := nested["list"].([]any)[0].(map[string]any)
	if item["accessToken"] != Redacted {
		t.Errorf("list item = %v", item)
	}
	if params["password"] != "hunter2" || params["nested"].(map[string]any)["api_key"] != "k2" {
		t.Error("input must not be modified")
	}
	if Redact(nil) != nil {
		t.Error("Redact(nil) should be nil")
	}
}
