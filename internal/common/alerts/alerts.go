// internal/common/alerts/alerts.go
package alerts

import (
	"context"
	"fmt"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"memberflow/internal/common/config"
	"memberflow/internal/common/logger"
)

// Notifier raises operator alerts when a worker invocation hits an
// unrecoverable condition. Alerting is best-effort: a failed alert is logged
// and never affects pipeline outcome.
type Notifier struct {
	cfg    config.AlertsConfig
	ses    *ses.Client
	sns    *sns.Client
	logger logger.Logger
}

// New builds a Notifier. When alerting is disabled the returned Notifier is a
// no-op and AWS configuration is never touched.
func New(ctx context.Context, cfg config.AlertsConfig, log logger.Logger) (*Notifier, error) {
	n := &Notifier{cfg: cfg, logger: log.With(map[string]interface{}{"component": "alerts"})}
	if !cfg.Enabled {
		return n, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	n.ses = ses.NewFromConfig(awsCfg)
	n.sns = sns.NewFromConfig(awsCfg)
	return n, nil
}

// UnrecoverableFailure alerts the operator that an envelope finished with
// nothing to show for it and needs manual follow-up.
func (n *Notifier) UnrecoverableFailure(ctx context.Context, envelopeID, flow, cause string) {
	if !n.cfg.Enabled {
		return
	}

	subject := fmt.Sprintf("[memberflow] unrecoverable %s failure: %s", flow, envelopeID)
	body := fmt.Sprintf("Envelope %s (%s flow) failed unrecoverably.\n\nCause: %s\n", envelopeID, flow, cause)

	if n.ses != nil && n.cfg.ToEmail != "" {
		_, err := n.ses.SendEmail(ctx, &ses.SendEmailInput{
			Source: awsv2.String(n.cfg.FromEmail),
			Destination: &sestypes.Destination{
				ToAddresses: []string{n.cfg.ToEmail},
			},
			Message: &sestypes.Message{
				Subject: &sestypes.Content{Data: awsv2.String(subject)},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: awsv2.String(body)},
				},
			},
		})
		if err != nil {
			n.logger.Error("alert email failed", map[string]interface{}{
				"envelopeId": envelopeID,
				"error":      err.Error(),
			})
		}
	}

	if n.sns != nil && n.cfg.SNSTopic != "" {
		_, err := n.sns.Publish(ctx, &sns.PublishInput{
			TopicArn: awsv2.String(n.cfg.SNSTopic),
			Subject:  awsv2.String(subject),
			Message:  awsv2.String(body),
		})
		if err != nil {
			n.logger.Error("alert publish failed", map[string]interface{}{
				"envelopeId": envelopeID,
				"error":      err.Error(),
			})
		}
	}
}
