// Package version exposes build metadata set with ldflags:
//
//	go build -ldflags "\
//	  -X github.com/ncobase/relay/version.Version=1.2.3 \
//	  -X github.com/ncobase/relay/version.Branch=main \
//	  -X github.com/ncobase/relay/version.Revision=abc1234 \
//	  -X 'github.com/ncobase/relay/version.BuiltAt=$(date)'"
package version
