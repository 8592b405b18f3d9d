package dingtalk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const (
	formListPageSize     = 200
	formInstancePageSize = 100
	// Bounds instance paging when the platform keeps reporting hasMore.
	maxFormPages = 1000
)

// FormProfile describes a smart form visible to the application.
type FormProfile struct {
	FormCode string `json:"formCode"`
	Creator  string `json:"creator"`
	Name     string `json:"name"`
	Memo     string `json:"memo"`
}

// FormField is one answered field of a form submission.
type FormField struct {
	Label string `json:"label"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// FormInstance is one submission of a smart form.
type FormInstance struct {
	FormInstanceID    string      `json:"formInstanceId"`
	FormCode          string      `json:"formCode"`
	SubmitterUserID   string      `json:"submitterUserId"`
	SubmitterUserName string      `json:"submitterUserName"`
	CreateTime        string      `json:"createTime"`
	ModifyTime        string      `json:"modifyTime"`
	Forms             []FormField `json:"forms"`
}

// Field returns the value of the first field labelled label.
func (i FormInstance) Field(label string) (string, bool) {
	for _, f := range i.Forms {
		if f.Label == label {
			return f.Value, true
		}
	}
	return "", false
}

// pageToken accepts nextToken as either a JSON number or a string.
type pageToken string

func (p *pageToken) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*p = ""
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*p = pageToken(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return err
	}
	*p = pageToken(n.String())
	return nil
}

// ListForms returns the smart forms created in the organisation.
func (c *Client) ListForms(ctx context.Context) ([]FormProfile, error) {
	token, err := c.accessToken()
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("maxResults", strconv.Itoa(formListPageSize))
	q.Set("bizType", "0")
	q.Set("nextToken", "0")

	var out struct {
		Result struct {
			List []FormProfile `json:"list"`
		} `json:"result"`
	}
	endpoint := c.cfg.APIBaseURL + "/v1.0/swform/users/forms?" + q.Encode()
	err = c.withRetry(ctx, "swform/forms", func() error {
		return c.doJSON(ctx, http.MethodGet, endpoint, authHeader(token), nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return out.Result.List, nil
}

// ListFormInstances walks every submission of formCode, following nextToken
// while the platform reports hasMore.
func (c *Client) ListFormInstances(ctx context.Context, formCode string) ([]FormInstance, error) {
	token, err := c.accessToken()
	if err != nil {
		return nil, err
	}

	var (
		instances []FormInstance
		next      = pageToken("0")
	)
	for page := 0; page < maxFormPages; page++ {
		q := url.Values{}
		q.Set("maxResults", strconv.Itoa(formInstancePageSize))
		q.Set("bizType", "0")
		q.Set("nextToken", string(next))
		endpoint := fmt.Sprintf("%s/v1.0/swform/forms/%s/instances?%s", c.cfg.APIBaseURL, url.PathEscape(formCode), q.Encode())

		var out struct {
			Result struct {
				HasMore   bool           `json:"hasMore"`
				NextToken pageToken      `json:"nextToken"`
				List      []FormInstance `json:"list"`
			} `json:"result"`
		}
		err := c.withRetry(ctx, "swform/instances", func() error {
			return c.doJSON(ctx, http.MethodGet, endpoint, authHeader(token), nil, &out)
		})
		if err != nil {
			return nil, err
		}
		instances = append(instances, out.Result.List...)
		if !out.Result.HasMore || out.Result.NextToken == "" || out.Result.NextToken == next {
			return instances, nil
		}
		next = out.Result.NextToken
	}
	c.logger.Sugar().Warnw("form instance paging stopped at page limit", "form_code", formCode, "pages", maxFormPages)
	return instances, nil
}
