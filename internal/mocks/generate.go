package mocks

// Mock generation directives. Run `go generate ./internal/mocks/` to regenerate.

//go:generate go run go.uber.org/mock/mockgen -source=../signout/notifier.go -destination=mock_notifier.go -package=mocks
