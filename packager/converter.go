package packager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/WiesHerd/contractpipeline/pkg/retry"
)

// PDFPackager renders DOCX locally and hands it to an HTTP conversion service
// (LibreOffice route of a Gotenberg-compatible API) for the PDF artifact.
// Connection failures and 5xx answers are retried under the policy.
type PDFPackager struct {
	docx       *DocxPackager
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
}

type PDFOption func(*PDFPackager)

func WithRetry(p retry.Policy) PDFOption {
	return func(pp *PDFPackager) { pp.policy = p }
}

func NewPDFPackager(baseURL string, docx *DocxPackager, opts ...PDFOption) *PDFPackager {
	if docx == nil {
		docx = NewDocxPackager()
	}
	p := &PDFPackager{
		docx:    docx,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		policy: retry.NoRetry,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *PDFPackager) Extension() string { return "pdf" }

// Ready checks the conversion service health endpoint.
func (p *PDFPackager) Ready(ctx context.Context) error {
	if p.baseURL == "" {
		return fmt.Errorf("%w: converter url is not configured", ErrPackagingUnavailable)
	}
	return p.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("%w: invalid converter url: %v", ErrPackagingUnavailable, err))
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			return transportError(err)
		}
		defer resp.Body.Close()
		switch {
		case resp.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: health check returned %d", ErrPackagingUnavailable, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return retry.Permanent(fmt.Errorf("%w: health check returned %d", ErrPackagingUnavailable, resp.StatusCode))
		}
		return nil
	})
}

func (p *PDFPackager) Package(ctx context.Context, in Input) (*Artifact, error) {
	if err := p.Ready(ctx); err != nil {
		return nil, err
	}

	docx, err := p.docx.Package(ctx, in)
	if err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	part, err := form.CreateFormFile("files", "contract.docx")
	if err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := part.Write(docx.Data); err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	payload := body.Bytes()

	data, err := retry.Value(ctx, p.policy, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/forms/libreoffice/convert", bytes.NewReader(payload))
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("%w: invalid converter url: %v", ErrPackagingUnavailable, err))
		}
		req.Header.Set("Content-Type", form.FormDataContentType())
		req.Header.Set("Accept", ContentTypePDF)

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, transportError(err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read response: %v", ErrPackagingUnavailable, err)
		}
		switch {
		case resp.StatusCode >= http.StatusInternalServerError:
			return nil, fmt.Errorf("%w: converter returned %d", ErrPackagingUnavailable, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return nil, retry.Permanent(fmt.Errorf("converter rejected document: %d: %s", resp.StatusCode, truncate(data, 200)))
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}

	return &Artifact{
		Filename:    Filename(in.ContractYear, in.ProviderName, in.GeneratedAt, p.Extension()),
		Data:        data,
		ContentType: ContentTypePDF,
		Warnings:    docx.Warnings,
	}, nil
}

// transportError keeps cancellation as is and reports anything else as the
// converter being unreachable.
func transportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return retry.Permanent(err)
	}
	return fmt.Errorf("%w: %v", ErrPackagingUnavailable, err)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
