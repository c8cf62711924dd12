package sns

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-mailstatus/core"
)

// HTTPSubscriptionConfirmer completes the subscription handshake against
// the provider's query API, deriving the regional endpoint from the
// topic ARN.
type HTTPSubscriptionConfirmer struct {
	Client *http.Client
}

func NewHTTPSubscriptionConfirmer(client *http.Client, timeout time.Duration) *HTTPSubscriptionConfirmer {
	if client == nil {
		client = &http.Client{}
	}
	if timeout > 0 {
		clone := *client
		clone.Timeout = timeout
		client = &clone
	}
	return &HTTPSubscriptionConfirmer{Client: client}
}

func (c *HTTPSubscriptionConfirmer) ConfirmSubscription(ctx context.Context, topicARN string, token string) error {
	if strings.TrimSpace(token) == "" {
		return core.NewFormatError("sns: confirmation token is required", nil)
	}
	endpoint, err := endpointForTopic(topicARN)
	if err != nil {
		return err
	}

	query := url.Values{}
	query.Set("Action", "ConfirmSubscription")
	query.Set("TopicArn", topicARN)
	query.Set("Token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return core.WrapInternalError(err, "sns: building confirmation request failed", map[string]any{
			"topic_arn": topicARN,
		})
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return core.WrapUpstreamUnavailableError(err, "sns: subscription confirmation call failed", map[string]any{
			"topic_arn": topicARN,
		})
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, defaultCertificateBodyLimit))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return core.NewUpstreamUnavailableError("sns: subscription confirmation returned non-2xx status", map[string]any{
			"topic_arn":   topicARN,
			"status_code": resp.StatusCode,
		})
	}
	return nil
}

// endpointForTopic maps arn:<partition>:sns:<region>:<account>:<name> to
// the regional query endpoint.
func endpointForTopic(topicARN string) (string, error) {
	parts := strings.Split(strings.TrimSpace(topicARN), ":")
	if len(parts) != 6 || parts[0] != "arn" || parts[2] != "sns" {
		return "", core.NewFormatError("sns: topic arn is malformed", map[string]any{
			"topic_arn": topicARN,
		})
	}
	partition, region := parts[1], parts[3]
	if region == "" {
		return "", core.NewFormatError("sns: topic arn is missing a region", map[string]any{
			"topic_arn": topicARN,
		})
	}
	suffix := "amazonaws.com"
	if partition == "aws-cn" {
		suffix = "amazonaws.com.cn"
	}
	return fmt.Sprintf("https://sns.%s.%s", region, suffix), nil
}

var _ core.SubscriptionConfirmer = (*HTTPSubscriptionConfirmer)(nil)
