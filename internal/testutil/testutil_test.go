package testutil

import (
	"net/http/httptest"
	"testing"
)

func TestNewTestServer(t *testing.T) {
	ts := NewTestServer(t)
	if ts.Server == nil {
		t.Fatal("NewTestServer returned nil server")
	}
	if ts.Settings == nil || ts.Store == nil || ts.MsgService == nil || ts.AutoReply == nil {
		t.Error("expected all dependencies to be wired")
	}
	if ts.Settings.Current().EnableProcessing {
		t.Error("expected processing disabled in the test server")
	}
}

func TestCreateHTTPRequest(t *testing.T) {
	tests := []struct {
		name   string
		method string
		url    string
		body   interface{}
	}{
		{
			name:   "GET request with no body",
			method: "GET",
			url:    "/test",
			body:   nil,
		},
		{
			name:   "POST request with JSON body",
			method: "POST",
			url:    "/test",
			body:   map[string]string{"key": "value"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := CreateHTTPRequest(t, tt.method, tt.url, tt.body)

			if req == nil {
				t.Fatal("Expected request to be created, got nil")
			}
			if req.Method != tt.method {
				t.Errorf("Expected method %s, got %s", tt.method, req.Method)
			}
			if req.URL.Path != tt.url {
				t.Errorf("Expected URL %s, got %s", tt.url, req.URL.Path)
			}
		})
	}
}

func TestAssertJSONResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.Body.WriteString(`{"status":"ok","result":"test"}`)

	response := AssertJSONResponse(t, rr, "ok")
	if response["result"] != "test" {
		t.Errorf("expected result field, got %v", response["result"])
	}
}

func TestMustMarshalJSON(t *testing.T) {
	testData := map[string]interface{}{
		"key1": "value1",
		"key2": 123,
	}

	result := MustMarshalJSON(t, testData)
	if len(result) == 0 {
		t.Error("Expected non-empty JSON data")
	}
}

func TestMustUnmarshalJSON(t *testing.T) {
	jsonData := []byte(`{"key":"value","number":123}`)
	var target map[string]interface{}

	MustUnmarshalJSON(t, jsonData, &target)

	if target["key"] != "value" {
		t.Errorf("Expected key to be 'value', got %v", target["key"])
	}
	if target["number"].(float64) != 123 {
		t.Errorf("Expected number to be 123, got %v", target["number"])
	}
}
