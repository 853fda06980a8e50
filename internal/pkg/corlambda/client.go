package corlambda

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/lambda"
	"github.com/aws/aws-sdk-go/service/lambda/lambdaiface"
	log "github.com/sirupsen/logrus"
)

// MaxLambdaRetries is the default number of times an invocation is retried
// when the relay function reports a function error.
const MaxLambdaRetries = 3

// ErrOutOfRetries is returned when every invocation attempt reported a function error
var ErrOutOfRetries = errors.New("lambda invocation failed: out of retries")

// LambdaClient wraps the AWS Lambda API and provides functions for
// invoking the submission relay function.
type LambdaClient struct {
	Client     lambdaiface.LambdaAPI
	MaxRetries int
}

// NewLambdaClient initializes a new LambdaClient from the shared AWS configuration
func NewLambdaClient() *LambdaClient {
	sess := session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))
	return &LambdaClient{
		Client:     lambda.New(sess),
		MaxRetries: MaxLambdaRetries,
	}
}

// FunctionExists reports whether a function named functionName is deployed.
func (l *LambdaClient) FunctionExists(functionName string) bool {
	getInput := &lambda.GetFunctionInput{
		FunctionName: aws.String(functionName),
	}

	_, err := l.Client.GetFunction(getInput)
	return err == nil
}

// Invoke invokes the given Lambda function with the given payload.
// Function errors are retried up to MaxRetries times. Transport errors are
// returned immediately.
func (l *LambdaClient) Invoke(functionName string, payload []byte) ([]byte, error) {
	invokeInput := &lambda.InvokeInput{
		FunctionName: aws.String(functionName),
		Payload:      payload,
	}

	var lastErr error
	for try := 0; try <= l.MaxRetries; try++ {
		if try > 0 {
			log.Debugf("Retrying invocation of '%s' (%d/%d)", functionName, try, l.MaxRetries)
		}

		output, err := l.Client.Invoke(invokeInput)
		if err != nil {
			return nil, err
		}
		if output.FunctionError == nil {
			return output.Payload, nil
		}
		lastErr = fmt.Errorf("function error: %s: %s", aws.StringValue(output.FunctionError), output.Payload)
		log.Warnf("Invocation of '%s' failed: %s", functionName, lastErr)
	}

	return nil, fmt.Errorf("%w: %s", ErrOutOfRetries, lastErr)
}
