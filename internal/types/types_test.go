package types

import (
	"encoding/json"
	"testing"
)

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Severity
		wantErr bool
	}{
		{name: "low", input: "low", want: SeverityLow},
		{name: "medium", input: "medium", want: SeverityMedium},
		{name: "high", input: "high", want: SeverityHigh},
		{name: "critical", input: "critical", want: SeverityCritical},
		{name: "unknown", input: "fatal", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSeverity(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseSeverity(%q) expected error, got %v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSeverity(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseSeverity(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSeverityOrdering(t *testing.T) {
	if !(SeverityLow < SeverityMedium && SeverityMedium < SeverityHigh && SeverityHigh < SeverityCritical) {
		t.Fatal("severity ordering broken: expected low < medium < high < critical")
	}
}

func TestSeverityJSONRoundTrip(t *testing.T) {
	for _, s := range []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		data, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("marshal %v: %v", s, err)
		}
		var back Severity
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if back != s {
			t.Errorf("round trip %v -> %s -> %v", s, data, back)
		}
	}
}

func TestThresholdViolated(t *testing.T) {
	min := 0.5
	max := 100.0
	expected := true

	tests := []struct {
		name      string
		threshold Threshold
		metric    HealthMetric
		want      bool
	}{
		{
			name:      "below min",
			threshold: Threshold{MetricName: "hit_rate", Min: &min, Severity: SeverityMedium},
			metric:    NumberMetric("hit_rate", 0.3),
			want:      true,
		},
		{
			name:      "above min passes",
			threshold: Threshold{MetricName: "hit_rate", Min: &min, Severity: SeverityMedium},
			metric:    NumberMetric("hit_rate", 0.6),
			want:      false,
		},
		{
			name:      "above max",
			threshold: Threshold{MetricName: "latency_ms", Max: &max, Severity: SeverityHigh},
			metric:    NumberMetric("latency_ms", 250),
			want:      true,
		},
		{
			name:      "at max passes",
			threshold: Threshold{MetricName: "latency_ms", Max: &max, Severity: SeverityHigh},
			metric:    NumberMetric("latency_ms", 100),
			want:      false,
		},
		{
			name:      "bool mismatch",
			threshold: Threshold{MetricName: "connected", Expected: &expected, Severity: SeverityCritical},
			metric:    BoolMetric("connected", false),
			want:      true,
		},
		{
			name:      "bool match passes",
			threshold: Threshold{MetricName: "connected", Expected: &expected, Severity: SeverityCritical},
			metric:    BoolMetric("connected", true),
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, desc := tt.threshold.Violated(tt.metric)
			if got != tt.want {
				t.Errorf("Violated() = %v, want %v", got, tt.want)
			}
			if got && desc == "" {
				t.Error("violation should carry a description")
			}
		})
	}
}

func TestThresholdValidate(t *testing.T) {
	min := 1.0
	expected := true

	tests := []struct {
		name      string
		threshold Threshold
		wantErr   bool
	}{
		{name: "numeric ok", threshold: Threshold{MetricName: "m", Min: &min, Severity: SeverityLow}},
		{name: "bool ok", threshold: Threshold{MetricName: "m", Expected: &expected, Severity: SeverityLow}},
		{name: "no bound", threshold: Threshold{MetricName: "m", Severity: SeverityLow}, wantErr: true},
		{name: "mixed bounds", threshold: Threshold{MetricName: "m", Min: &min, Expected: &expected, Severity: SeverityLow}, wantErr: true},
		{name: "no name", threshold: Threshold{Min: &min, Severity: SeverityLow}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.threshold.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestActionKindRisk(t *testing.T) {
	for _, kind := range AllActionKinds() {
		if !kind.IsValid() {
			t.Errorf("AllActionKinds returned invalid kind %q", kind)
		}
		if !kind.Risk().IsValid() {
			t.Errorf("action %q has invalid risk", kind)
		}
	}
	if ActionRestartComponent.Risk() != SeverityHigh {
		t.Errorf("restart_component risk = %v, want high", ActionRestartComponent.Risk())
	}
	if ActionLogDiagnostics.Risk() != SeverityLow {
		t.Errorf("log_diagnostics risk = %v, want low", ActionLogDiagnostics.Risk())
	}
}

func TestCheckFailureMetric(t *testing.T) {
	m := NewCheckFailure("timeout after 5s")
	if m.Name != CheckFailureMetric {
		t.Errorf("name = %q, want %q", m.Name, CheckFailureMetric)
	}
	if m.Healthy {
		t.Error("check failure metric must be unhealthy")
	}
	if m.Details != "timeout after 5s" {
		t.Errorf("details = %q", m.Details)
	}
}

func TestIssueStatus(t *testing.T) {
	terminal := map[IssueStatus]bool{
		IssueOpen:       false,
		IssueDiagnosing: false,
		IssueRecovering: false,
		IssueResolved:   true,
		IssueFailed:     true,
	}
	for status, want := range terminal {
		if !status.IsValid() {
			t.Errorf("status %q should be valid", status)
		}
		if status.IsTerminal() != want {
			t.Errorf("IsTerminal(%q) = %v, want %v", status, status.IsTerminal(), want)
		}
	}
	if IssueStatus("stuck").IsValid() {
		t.Error("unknown status should be invalid")
	}
}
