package s3fs

import (
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// defaultContentType is applied to uploads that do not set Content-Type.
const defaultContentType = "application/octet-stream"

// writeMetadata is the parsed, validated subset of user metadata that is
// forwarded to S3 on upload. Unrecognized keys are ignored.
type writeMetadata struct {
	acl             types.ObjectCannedACL
	cacheControl    string
	contentType     string
	contentLanguage string
	expires         *time.Time
}

// parseWriteMetadata merges the given metadata maps, later maps taking
// precedence, and validates the recognized keys. An unknown ACL value or
// an unparseable Expires timestamp is an error; any other key is
// silently dropped.
func parseWriteMetadata(maps ...map[string]string) (writeMetadata, error) {
	merged := map[string]string{}
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}

	md := writeMetadata{contentType: defaultContentType}
	for k, v := range merged {
		switch k {
		case "ACL":
			acl, err := parseCannedACL(v)
			if err != nil {
				return writeMetadata{}, err
			}
			md.acl = acl
		case "Cache-Control":
			md.cacheControl = v
		case "Content-Type":
			md.contentType = v
		case "Content-Language":
			md.contentLanguage = v
		case "Expires":
			t, err := parseExpires(v)
			if err != nil {
				return writeMetadata{}, err
			}
			md.expires = &t
		}
	}
	return md, nil
}

func parseCannedACL(v string) (types.ObjectCannedACL, error) {
	acl := types.ObjectCannedACL(v)
	for _, known := range acl.Values() {
		if acl == known {
			return acl, nil
		}
	}
	return "", fmt.Errorf("%w: unsupported canned ACL %q", ErrInvalidState, v)
}

// parseExpires accepts RFC 3339 or HTTP-date timestamps.
func parseExpires(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if t, err := http.ParseTime(v); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse Expires timestamp %q", ErrInvalidState, v)
}

func (md writeMetadata) applyToPut(input *s3.PutObjectInput) {
	input.ACL = md.acl
	input.ContentType = aws.String(md.contentType)
	if md.cacheControl != "" {
		input.CacheControl = aws.String(md.cacheControl)
	}
	if md.contentLanguage != "" {
		input.ContentLanguage = aws.String(md.contentLanguage)
	}
	input.Expires = md.expires
}

func (md writeMetadata) applyToCreateMultipart(input *s3.CreateMultipartUploadInput) {
	input.ACL = md.acl
	input.ContentType = aws.String(md.contentType)
	if md.cacheControl != "" {
		input.CacheControl = aws.String(md.cacheControl)
	}
	if md.contentLanguage != "" {
		input.ContentLanguage = aws.String(md.contentLanguage)
	}
	input.Expires = md.expires
}
