package core

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"
)

type WalletResolver struct {
	client PaymentsClient
}

func NewWalletResolver(client PaymentsClient) *WalletResolver {
	return &WalletResolver{client: client}
}

// NormalizeWalletAddress validates a wallet address URL. Payment pointers
// ("$host/path") are expanded to https and trailing slashes are removed.
func NormalizeWalletAddress(raw string) (string, error) {
	address := strings.TrimSpace(raw)
	if address == "" {
		return "", fmt.Errorf("wallet address is required")
	}
	if strings.HasPrefix(address, "$") {
		address = "https://" + strings.TrimPrefix(address, "$")
	}
	parsed, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("wallet address %q is malformed: %w", raw, err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "https" && scheme != "http" {
		return "", fmt.Errorf("wallet address %q must start with http:// or https://", raw)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("wallet address %q has no host", raw)
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return "", fmt.Errorf("wallet address %q must not carry a query or fragment", raw)
	}
	parsed.Scheme = scheme
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	parsed.RawPath = ""
	return parsed.String(), nil
}

func (r *WalletResolver) Resolve(ctx context.Context, address string) (WalletInfo, error) {
	if r == nil || r.client == nil {
		return WalletInfo{}, fmt.Errorf("core: wallet resolver is not configured")
	}
	normalized, err := NormalizeWalletAddress(address)
	if err != nil {
		return WalletInfo{}, &WalletNotFoundError{Address: address, Cause: err}
	}
	info, err := r.client.GetWalletAddress(ctx, normalized)
	if err != nil {
		return WalletInfo{}, &WalletNotFoundError{Address: normalized, Cause: err}
	}

	info.ID = strings.TrimRight(strings.TrimSpace(info.ID), "/")
	if info.ID == "" {
		info.ID = normalized
	}
	info.AuthServerURL = strings.TrimRight(strings.TrimSpace(info.AuthServerURL), "/")
	info.ResourceServerURL = strings.TrimRight(strings.TrimSpace(info.ResourceServerURL), "/")
	info.AssetCode = strings.TrimSpace(info.AssetCode)
	switch {
	case info.AuthServerURL == "":
		return WalletInfo{}, &WalletNotFoundError{Address: normalized, Cause: fmt.Errorf("wallet address document has no authServer")}
	case info.ResourceServerURL == "":
		return WalletInfo{}, &WalletNotFoundError{Address: normalized, Cause: fmt.Errorf("wallet address document has no resourceServer")}
	case info.AssetCode == "" || info.AssetScale < 0:
		return WalletInfo{}, &WalletNotFoundError{Address: normalized, Cause: fmt.Errorf("wallet address document has no valid asset")}
	}
	return info, nil
}

// ResolvePair resolves both wallets concurrently. The first failure cancels
// the other lookup.
func (r *WalletResolver) ResolvePair(ctx context.Context, sender string, receiver string) (WalletInfo, WalletInfo, error) {
	var sending, receiving WalletInfo
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		info, err := r.Resolve(groupCtx, sender)
		if err != nil {
			return err
		}
		sending = info
		return nil
	})
	group.Go(func() error {
		info, err := r.Resolve(groupCtx, receiver)
		if err != nil {
			return err
		}
		receiving = info
		return nil
	})
	if err := group.Wait(); err != nil {
		return WalletInfo{}, WalletInfo{}, err
	}
	return sending, receiving, nil
}
