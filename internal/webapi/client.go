// Package webapi creates change log records through the CRM Web API.
package webapi

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"field-change-log/internal/config"
	"field-change-log/internal/models"
)

var entityIDPattern = regexp.MustCompile(`\(([0-9a-fA-F-]{36})\)\s*$`)

// Client creates records with POST {base}/api/data/{version}/{entitySet}
type Client struct {
	client    *resty.Client
	entitySet string
	logger    *logrus.Logger
}

type odataError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient creates a Web API client
func NewClient(cfg config.WebAPIConfig, logger *logrus.Logger) (*Client, error) {
	baseURL, err := buildBaseURL(cfg)
	if err != nil {
		return nil, err
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("OData-MaxVersion", "4.0").
		SetHeader("OData-Version", "4.0").
		SetRetryCount(0)
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &Client{
		client:    client,
		entitySet: cfg.EntitySet,
		logger:    logger,
	}, nil
}

func buildBaseURL(cfg config.WebAPIConfig) (string, error) {
	parsed, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return "", fmt.Errorf("base URL must be absolute, got: %s", cfg.BaseURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("base URL scheme must be http or https, got: %s", parsed.Scheme)
	}
	return fmt.Sprintf("%s/api/data/%s", parsed.String(), cfg.APIVersion), nil
}

// CreateRecord posts the record and returns the id of the new entity. The
// entity name is only used for messages, the target is the entity set.
func (c *Client) CreateRecord(ctx context.Context, entityName string, record models.LogRecord) (string, error) {
	var created map[string]any
	var apiErr odataError

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(record).
		SetResult(&created).
		SetError(&apiErr).
		Post("/" + c.entitySet)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", entityName, err)
	}
	if resp.IsError() {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return "", fmt.Errorf("create %s failed with status %d: %s", entityName, resp.StatusCode(), msg)
	}

	if id := idFromEntityHeader(resp.Header().Get("OData-EntityId")); id != "" {
		c.logger.Debugf("Created %s %s", entityName, id)
		return id, nil
	}
	for _, key := range []string{entityName + "id", "id"} {
		if v, ok := created[key].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("create %s: response carried no record id", entityName)
}

// idFromEntityHeader extracts the GUID from ".../ams_fieldchangelogs(<guid>)"
func idFromEntityHeader(header string) string {
	m := entityIDPattern.FindStringSubmatch(header)
	if m == nil {
		return ""
	}
	return m[1]
}
