package bootstrap

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"

	appconfig "github.com/wolfman30/aliado-ai-platform/internal/config"
	"github.com/wolfman30/aliado-ai-platform/internal/notify"
	"github.com/wolfman30/aliado-ai-platform/pkg/logging"
)

func TestBuildEmailSender(t *testing.T) {
	awsCfg := &aws.Config{Region: "us-east-1"}
	tests := []struct {
		name   string
		cfg    *appconfig.Config
		aws    *aws.Config
		expect any
	}{
		{
			name:   "sendgrid wins",
			cfg:    &appconfig.Config{SendGridAPIKey: "SG.key", SendGridFromEmail: "bot@aliado.example", SESFromEmail: "ses@aliado.example"},
			aws:    awsCfg,
			expect: &notify.SendGridSender{},
		},
		{
			name:   "ses when sendgrid is incomplete",
			cfg:    &appconfig.Config{SendGridAPIKey: "SG.key", SESFromEmail: "ses@aliado.example"},
			aws:    awsCfg,
			expect: &notify.SESSender{},
		},
		{
			name:   "ses needs aws config",
			cfg:    &appconfig.Config{SESFromEmail: "ses@aliado.example"},
			expect: &notify.StubEmailSender{},
		},
		{
			name:   "stub by default",
			cfg:    &appconfig.Config{},
			expect: &notify.StubEmailSender{},
		},
		{
			name:   "nil config",
			expect: &notify.StubEmailSender{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := BuildEmailSender(tt.cfg, tt.aws, logging.New("error"))
			assert.IsType(t, tt.expect, sender)
		})
	}
}
