package exam

import "testing"

func TestNewSMTPMailer(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SMTPConfig
		wantNil bool
	}{
		{name: "no host", cfg: SMTPConfig{Port: 587, From: "exams@example.test"}, wantNil: true},
		{name: "no port", cfg: SMTPConfig{Host: "smtp.example.test", From: "exams@example.test"}, wantNil: true},
		{name: "no sender", cfg: SMTPConfig{Host: "smtp.example.test", Port: 587}, wantNil: true},
		{name: "configured", cfg: SMTPConfig{Host: " smtp.example.test ", Port: 587, From: "exams@example.test"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := NewSMTPMailer(tc.cfg)
			if (m == nil) != tc.wantNil {
				t.Fatalf("expected nil=%v, got %v", tc.wantNil, m)
			}
			if sm, ok := m.(*SMTPMailer); ok && sm.host != "smtp.example.test" {
				t.Fatalf("expected trimmed host, got %q", sm.host)
			}
		})
	}
}
