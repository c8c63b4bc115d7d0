package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/biotracer/agent/internal/client/models"
	agentErrors "github.com/biotracer/agent/internal/errors"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	requestTimeout     = time.Second * 30
	uploadTimeout      = time.Minute * 10
	requestContentType = "application/json"
	uploadContentType  = "application/octet-stream"
	maxErrorBodySize   = 1024

	endpointUploadUrl = "upload-url"
	endpointEvents    = "events"
)

type ApiConfig struct {
	Url   string
	Token string
}

func (ac *ApiConfig) Valid() (bool, error) {
	if ac.Url == "" {
		return false, errors.New("empty url")
	} else if ac.Token == "" {
		return false, errors.New("empty token")
	}

	return true, nil
}

type RestfulClient struct {
	logger     *zap.Logger
	context    context.Context
	cancel     context.CancelFunc
	httpClient *http.Client
	apiConfig  *ApiConfig
}

func trimUrlSeparatorSuffix(urlPart string) string {
	return strings.TrimSuffix(urlPart, "/")
}

func NewRestfulClient(ctx context.Context, rootLogger *zap.Logger, apiConfig *ApiConfig) (*RestfulClient, error) {
	if valid, err := apiConfig.Valid(); !valid {
		return nil, errors.WithMessage(err, "validate api config")
	}

	logger := rootLogger.Named("restful-client")
	ctx, cancel := context.WithCancel(ctx)

	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}

	apiConfig.Url = trimUrlSeparatorSuffix(apiConfig.Url)

	return &RestfulClient{
		logger:     logger,
		context:    ctx,
		cancel:     cancel,
		httpClient: client,
		apiConfig:  apiConfig,
	}, nil
}

func (rc *RestfulClient) Get(endpoint string) (*http.Response, error) {
	return rc.sendRequest(http.MethodGet, endpoint, nil)
}

func (rc *RestfulClient) Post(endpoint string, message []byte) (*http.Response, error) {
	return rc.sendRequest(http.MethodPost, endpoint, message)
}

func (rc *RestfulClient) Put(endpoint string, message []byte) (*http.Response, error) {
	return rc.sendRequest(http.MethodPut, endpoint, message)
}

func (rc *RestfulClient) sendRequest(method string, endpoint string, message []byte) (*http.Response, error) {
	var err error

	requestBody := bytes.NewBuffer(message)

	url := fmt.Sprintf("%s/%s/", rc.apiConfig.Url, trimUrlSeparatorSuffix(endpoint))

	requestContext, cancelRequest := context.WithTimeout(rc.context, requestTimeout)
	defer func() {
		if err != nil {
			cancelRequest()
		}
	}()

	request, err := http.NewRequestWithContext(requestContext, method, url, requestBody)
	if err != nil {
		return nil, errors.WithMessage(err, "new request")
	}
	request.Header.Set("x-api-key", rc.apiConfig.Token)
	request.Header.Set("Content-Type", requestContentType)

	response, err := rc.httpClient.Do(request)
	if err != nil {
		return nil, errors.WithMessage(err, "request failed")
	}

	return response, nil
}

// checkResponse consumes and closes the response body, failing on a non-2xx status.
func checkResponse(response *http.Response, into interface{}) error {
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		body, _ := ioutil.ReadAll(io.LimitReader(response.Body, maxErrorBodySize))
		return errors.Errorf("unexpected status %d: %s", response.StatusCode, strings.TrimSpace(string(body)))
	}

	if into == nil {
		_, _ = io.Copy(ioutil.Discard, response.Body)
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(into); err != nil {
		return errors.WithMessage(err, "decode response")
	}
	return nil
}

// SendEvents posts a batch of events to the service.
func (rc *RestfulClient) SendEvents(batch *models.EventBatch) error {
	message, err := json.Marshal(batch)
	if err != nil {
		return agentErrors.WrappedErrEncodePayload(err)
	}

	response, err := rc.Post(endpointEvents, message)
	if err != nil {
		return errors.WithMessage(err, "post events")
	}
	return checkResponse(response, nil)
}

// Upload asks the service for a signed url for name and puts the file at path to it.
func (rc *RestfulClient) Upload(ctx context.Context, name, path string) error {
	signedUrl, err := rc.requestSignedUrl(name)
	if err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return errors.WithMessage(err, "open file")
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return errors.WithMessage(err, "stat file")
	}

	uploadContext, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	request, err := http.NewRequestWithContext(uploadContext, http.MethodPut, signedUrl, file)
	if err != nil {
		return errors.WithMessage(err, "new upload request")
	}
	request.ContentLength = stat.Size()
	request.Header.Set("Content-Type", uploadContentType)

	rc.logger.Debug("Uploading to signed url", zap.String("Name", name), zap.Int64("Size", stat.Size()))

	response, err := rc.httpClient.Do(request)
	if err != nil {
		return errors.WithMessage(err, "upload failed")
	}
	return checkResponse(response, nil)
}

func (rc *RestfulClient) requestSignedUrl(name string) (string, error) {
	message, err := json.Marshal(&models.SignedUrlRequest{FileName: name})
	if err != nil {
		return "", errors.WithMessage(err, "marshal signed url request")
	}

	response, err := rc.Post(endpointUploadUrl, message)
	if err != nil {
		return "", errors.WithMessage(err, "request signed url")
	}

	var signed models.SignedUrlResponse
	if err := checkResponse(response, &signed); err != nil {
		return "", errors.WithMessage(err, "request signed url")
	}
	if signed.SignedUrl == "" {
		return "", errors.New("empty signed url")
	}
	return signed.SignedUrl, nil
}

func (rc *RestfulClient) AbortAll() {
	rc.httpClient.CloseIdleConnections()
	rc.cancel()
}
