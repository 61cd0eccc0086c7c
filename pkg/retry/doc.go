// Package retry provides exponential backoff for transient failures.
//
// Do stops at the first success and never retries an error that is
// marked with NonRetryable or classified invalid or fatal by the errors
// package. Sink publishes and the existing-object lookup of the
// objectstore sensor run through it:
//
//	info, err := retry.DoWithResult(ctx, retry.Quick(), func() (*jetstream.ObjectInfo, error) {
//	    info, err := bucket.GetInfo(ctx, key)
//	    if stderrors.Is(err, jetstream.ErrObjectNotFound) {
//	        return nil, retry.NonRetryable(err)
//	    }
//	    return info, err
//	})
//
// When the attempts run out the last error is returned wrapped, so
// errors.Is and the errors classification still see the cause.
package retry
