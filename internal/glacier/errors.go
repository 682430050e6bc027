package glacier

import (
	"context"
	"errors"
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"

	"github.com/dmitrijs2005/glacierkeeper/internal/common"
)

// transient service codes that are worth another attempt
var retryableCodes = map[string]bool{
	"RequestTimeoutException":     true,
	"ServiceUnavailableException": true,
	"ThrottlingException":         true,
	"SlowDown":                    true,
}

// mapError classifies an SDK error. Service responses with a client-facing
// status become remote rejections carrying the status, code and message.
// Server faults, throttling and failures to reach the service are transport
// errors. Context cancellation is passed through untouched.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	status := 0
	var re *awshttp.ResponseError
	if errors.As(err, &re) && re.Response != nil {
		status = re.HTTPStatusCode()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if retryableCodes[apiErr.ErrorCode()] || status >= http.StatusInternalServerError {
			return common.Transport(op, err)
		}
		if status == 0 {
			status = http.StatusBadRequest
		}
		body := apiErr.ErrorCode()
		if msg := apiErr.ErrorMessage(); msg != "" {
			body += ": " + msg
		}
		return &common.Error{Kind: common.KindRemoteRejection, Op: op, Status: status, Message: body, Err: err}
	}

	if status >= http.StatusBadRequest && status < http.StatusInternalServerError {
		return &common.Error{Kind: common.KindRemoteRejection, Op: op, Status: status, Message: http.StatusText(status), Err: err}
	}

	return common.Transport(op, err)
}
