package scoringsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/exam"
)

// httpService talks to the external scoring collaborator over its REST API.
// It only ever triggers scoring and reads results; it never owns them.
type httpService struct {
	baseURL string
	client  *http.Client
	logger  core.Logger
}

var _ exam.Scorer = (*httpService)(nil)

func NewHTTPService(conf *core.Config, logger core.Logger) *httpService {
	return &httpService{
		baseURL: strings.TrimRight(conf.Scoring.BaseURL, "/"),
		client:  &http.Client{Timeout: conf.Scoring.Timeout},
		logger:  logger,
	}
}

// CompleteSession triggers scoring for a session. The collaborator is
// assumed idempotent per session id; callers still enforce at-most-once.
func (svc *httpService) CompleteSession(ctx context.Context, sessionID string) error {
	url := fmt.Sprintf("%s/v1/sessions/%s/complete", svc.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return errors.Wrap(err, "building completeSession request")
	}

	res, err := svc.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "calling completeSession")
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode >= http.StatusBadRequest {
		return errors.Errorf("completeSession: status %d", res.StatusCode)
	}
	return nil
}

func (svc *httpService) Results(ctx context.Context, sessionID string) (exam.Result, error) {
	url := fmt.Sprintf("%s/v1/sessions/%s/results", svc.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return exam.Result{}, errors.Wrap(err, "building results request")
	}

	res, err := svc.client.Do(req)
	if err != nil {
		return exam.Result{}, errors.Wrap(err, "calling results")
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode >= http.StatusBadRequest {
		return exam.Result{}, errors.Errorf("results: status %d", res.StatusCode)
	}

	var result exam.Result
	if err = json.NewDecoder(res.Body).Decode(&result); err != nil {
		return exam.Result{}, errors.Wrap(err, "decoding results")
	}
	return result, nil
}
