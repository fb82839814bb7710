package s3fs

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/http"

	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// addEmbedded200ErrorMiddleware installs a deserialize middleware that
// surfaces errors S3 embeds in the body of an HTTP 200 response.
// CompleteMultipartUpload can return 200 and then stream an <Error>
// document (or nothing at all) instead of the result; the stock
// deserializer treats that as success. The middleware sits between the
// transport and the operation deserializer so it inspects the raw body
// first and converts an embedded error into an API error the caller's
// retry loop can classify.
func addEmbedded200ErrorMiddleware(stack *middleware.Stack) error {
	return stack.Deserialize.Insert(&embedded200ErrorMiddleware{},
		"OperationDeserializer", middleware.After)
}

type embedded200ErrorMiddleware struct{}

func (*embedded200ErrorMiddleware) ID() string { return "Embedded200Error" }

func (m *embedded200ErrorMiddleware) HandleDeserialize(
	ctx context.Context, in middleware.DeserializeInput, next middleware.DeserializeHandler,
) (middleware.DeserializeOutput, middleware.Metadata, error) {
	out, metadata, err := next.HandleDeserialize(ctx, in)
	if err != nil {
		return out, metadata, err
	}

	resp, ok := out.RawResponse.(*smithyhttp.Response)
	if !ok || resp.StatusCode != http.StatusOK {
		return out, metadata, err
	}

	body, rerr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if rerr != nil {
		return out, metadata, &smithy.DeserializationError{Err: rerr}
	}
	// The operation deserializer still needs to read the payload.
	resp.Body = io.NopCloser(bytes.NewReader(body))

	if apiErr := embedded200Error(body); apiErr != nil {
		return out, metadata, apiErr
	}
	return out, metadata, nil
}

// embedded200Error inspects a 200-response body and returns a non-nil
// API error when the body is empty or its document root is an <Error>
// element. Both shapes are treated as transient server faults.
func embedded200Error(body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return &smithy.GenericAPIError{
			Code:    "InternalError",
			Message: "empty response body with HTTP status 200",
			Fault:   smithy.FaultServer,
		}
	}

	dec := xml.NewDecoder(bytes.NewReader(trimmed))
	root, err := rootElement(dec)
	if err != nil || root == nil {
		// Not an XML document; let the operation deserializer decide.
		return nil
	}
	if root.Name.Local != "Error" {
		return nil
	}

	var parsed struct {
		Code    string `xml:"Code"`
		Message string `xml:"Message"`
	}
	if err := dec.DecodeElement(&parsed, root); err != nil {
		return &smithy.GenericAPIError{
			Code:    "InternalError",
			Message: "malformed error document with HTTP status 200",
			Fault:   smithy.FaultServer,
		}
	}
	return &smithy.GenericAPIError{
		Code:    parsed.Code,
		Message: parsed.Message,
		Fault:   smithy.FaultServer,
	}
}

// rootElement advances the decoder to the document's first start element.
func rootElement(dec *xml.Decoder) (*xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return &start, nil
		}
	}
}
