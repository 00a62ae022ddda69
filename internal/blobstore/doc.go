// Package blobstore fetches update manifests and packages from the container
// a desired-state document names.
//
// The connection string selects the backend. A string carrying BlobEndpoint
// (or AccountName with EndpointSuffix) is served over plain HTTPS with an
// optional shared access signature appended to each request. A string with
// Backend=s3 or a Region is served from an S3 bucket through aws-sdk-go.
package blobstore
