package security

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateMessageSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		size    int
		max     int
		wantErr error
	}{
		{name: "within limit", size: 512, max: 1024, wantErr: nil},
		{name: "at limit", size: 1024, max: 1024, wantErr: nil},
		{name: "over limit", size: 1025, max: 1024, wantErr: ErrMessageTooLarge},
		{name: "empty body", size: 0, max: 1024, wantErr: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateMessageSize(make([]byte, tt.size), tt.max)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateMessageSize(size=%d, max=%d) = %v, want %v",
					tt.size, tt.max, err, tt.wantErr)
			}
		})
	}
}

func TestValidateMessageSizeDefault(t *testing.T) {
	t.Parallel()

	if err := ValidateMessageSize(make([]byte, DefaultMaxMessageSize), 0); err != nil {
		t.Errorf("body at the default limit rejected: %v", err)
	}
	err := ValidateMessageSize(make([]byte, DefaultMaxMessageSize+1), 0)
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("body over the default limit = %v, want ErrMessageTooLarge", err)
	}
}

func TestValidateJSONDepth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		json    string
		max     int
		wantErr error
	}{
		{
			name:    "add-job body",
			json:    `{"owner_id": "alice", "schedule": "0 9 * * *", "payload": "stand up"}`,
			max:     4,
			wantErr: nil,
		},
		{
			name:    "nested within limit",
			json:    `{"a": {"b": {"c": 1}}}`,
			max:     3,
			wantErr: nil,
		},
		{
			name:    "nested over limit",
			json:    `{"a": {"b": {"c": {"d": 1}}}}`,
			max:     3,
			wantErr: ErrJSONTooDeep,
		},
		{
			name:    "array nesting counts",
			json:    `[[[[1]]]]`,
			max:     3,
			wantErr: ErrJSONTooDeep,
		},
		{
			name:    "bare scalar",
			json:    `"just a string"`,
			max:     1,
			wantErr: nil,
		},
		{
			name:    "empty body",
			json:    "",
			max:     1,
			wantErr: nil,
		},
		{
			name:    "truncated document",
			json:    `{"owner_id": "al`,
			max:     4,
			wantErr: ErrInvalidJSON,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateJSONDepth([]byte(tt.json), tt.max)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateJSONDepth(%q, %d) = %v, want %v",
					tt.json, tt.max, err, tt.wantErr)
			}
		})
	}
}

// A JSON bomb must be rejected by the token walk, not by unmarshaling
// it first.
func TestValidateJSONDepthBomb(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	for range 2000 {
		sb.WriteString(`{"a":`)
	}
	sb.WriteString("1")
	for range 2000 {
		sb.WriteString("}")
	}

	if err := ValidateJSONDepth([]byte(sb.String()), 0); !errors.Is(err, ErrJSONTooDeep) {
		t.Errorf("deeply nested document = %v, want ErrJSONTooDeep", err)
	}
}
