package services

import (
	"fmt"
	"regexp"

	log "github.com/sirupsen/logrus"

	"github.com/leadpilot-hq/leadpilot-backend/internal/models"
)

// TemplateConfig holds template configuration
type TemplateConfig struct {
	ContentSID  string // Twilio Content SID, WhatsApp only
	Description string
	Channel     string // channel the template is registered for
	Body        string // rendered locally for SMS/EMAIL freeform delivery
	Subject     string // email only
	Parameters  []string
}

// MessageTemplates maps template codes to their configuration. WhatsApp
// entries carry the provider-registered Content SID; SMS and email entries
// carry the body skeleton rendered by Interpolate.
var MessageTemplates = map[string]TemplateConfig{
	"appointment_reminder": {
		ContentSID:  "HX2f61cf09bd8276d047df473615bd1529",
		Description: "Reminder before a scheduled appointment",
		Channel:     models.ChannelWhatsApp,
		Body:        "Hi {{name}}, this is a reminder of your appointment on {{date}} at {{time}}. Reply here if you need to reschedule.",
		Parameters:  []string{"name", "date", "time"},
	},
	"appointment_reminder_sms": {
		Description: "SMS fallback for the appointment reminder",
		Channel:     models.ChannelSMS,
		Body:        "Hi {{name}}, reminder: your appointment is on {{date}} at {{time}}.",
		Parameters:  []string{"name", "date", "time"},
	},
	"magic_link_login": {
		ContentSID:  "HX91c00a690de2795ecb00f56d9811ff35",
		Description: "One-tap sign-in link",
		Channel:     models.ChannelWhatsApp,
		Body:        "Hi {{name}}, tap to sign in: {{link}}. The link expires in {{expires_in}}.",
		Parameters:  []string{"name", "link", "expires_in"},
	},
	"welcome_lead": {
		ContentSID:  "HX07c19a6001be6c8d2dd22b06a75ef063",
		Description: "First reply after a new lead reaches out",
		Channel:     models.ChannelWhatsApp,
		Body:        "Hi {{name}}, thanks for reaching out to {{company}}! One of our advisors will get back to you shortly.",
		Parameters:  []string{"name", "company"},
	},
	"follow_up": {
		ContentSID:  "HXa4b1f7d2905c10c7402d8be1a53b9e21",
		Description: "Re-engagement after a quiet period",
		Channel:     models.ChannelWhatsApp,
		Body:        "Hi {{name}}, just checking in - are you still interested in {{topic}}?",
		Parameters:  []string{"name", "topic"},
	},
	"consent_confirmation": {
		Description: "Double opt-in confirmation",
		Channel:     models.ChannelEmail,
		Subject:     "Please confirm your subscription",
		Body:        "Hi {{name}},\n\nPlease confirm you want to receive updates from {{company}}: {{link}}\n\nIf this wasn't you, ignore this message.",
		Parameters:  []string{"name", "company", "link"},
	},
	"appointment_confirmation_email": {
		Description: "Email confirmation after booking",
		Channel:     models.ChannelEmail,
		Subject:     "Your appointment on {{date}}",
		Body:        "Hi {{name}},\n\nYour appointment is confirmed for {{date}} at {{time}}.\nLocation: {{location}}\n\nSee you there!",
		Parameters:  []string{"name", "date", "time", "location"},
	},
}

var placeholderPattern = regexp.MustCompile(`\{\{([a-zA-Z0-9_]+)\}\}`)

// TemplateService handles template lookup and variable interpolation
type TemplateService struct{}

// NewTemplateService creates a new template service
func NewTemplateService() *TemplateService {
	return &TemplateService{}
}

// GetTemplate returns a template's configuration
func (ts *TemplateService) GetTemplate(code string) (*TemplateConfig, error) {
	template, exists := MessageTemplates[code]
	if !exists {
		return nil, fmt.Errorf("template '%s' not found", code)
	}
	return &template, nil
}

// Interpolate replaces every {{name}} placeholder with the matching value.
// A placeholder with no matching variable is left untouched and logged, so a
// partially-populated template is visibly incomplete instead of silently
// blanked out.
func (ts *TemplateService) Interpolate(template string, variables map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := variables[name]
		if !ok {
			log.WithField("placeholder", name).Warn("template placeholder has no matching variable")
			return match
		}
		return value
	})
}

// MissingRequiredVariables cross-references a template's declared parameter
// list against the supplied variables. A non-empty result rejects the send
// before it ever reaches the provider.
func (ts *TemplateService) MissingRequiredVariables(code string, provided map[string]string) ([]string, error) {
	template, err := ts.GetTemplate(code)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, param := range template.Parameters {
		if _, ok := provided[param]; !ok {
			missing = append(missing, param)
		}
	}
	return missing, nil
}

// ContentVariables converts named parameters into the positional {{1}}, {{2}}
// form the Twilio Content API expects.
func (ts *TemplateService) ContentVariables(template *TemplateConfig, params map[string]string) map[string]string {
	variables := make(map[string]string, len(template.Parameters))
	for i, name := range template.Parameters {
		if value, ok := params[name]; ok {
			variables[fmt.Sprintf("%d", i+1)] = value
		}
	}
	return variables
}
