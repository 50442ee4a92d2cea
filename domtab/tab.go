package domtab

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab wraps a Rod page with domrec-specific setup: stealth, resource
// blocking, and DOM tracking initialisation. The same type backs the
// recorder's source tab and the player's target tab; Role selects which
// defaults apply.
type Tab struct {
	Page    *rod.Page
	PageURL string
	PageID  string
	Role    Role
	Stealth StealthLevel
	manager *Manager
}

// OpenTab creates a new tab for the given role and navigates to the URL with
// stealth applied. It does not enable DOM domain tracking; EnableDOMTracking
// does that. Resource blocking is
// only applied to source tabs — a target tab must render every asset it
// is told to render.
func OpenTab(ctx context.Context, mgr *Manager, role Role, pageURL, pageID string, level StealthLevel) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("domtab: no active browser")
	}

	var page *rod.Page
	var err error

	if level >= LevelHeadless {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("domtab: create tab: %w", err)
	}

	if role == RoleSource && len(mgr.cfg.ResourceBlocking) > 0 {
		if err := applyResourceBlocking(page, mgr.cfg.ResourceBlocking); err != nil {
			mgr.cfg.Logger.Warn("domtab: resource blocking failed", "error", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if pageURL != "" {
		err = page.Context(navCtx).Navigate(pageURL)
		if err != nil {
			page.Close()
			return nil, fmt.Errorf("domtab: navigate %s: %w", pageURL, err)
		}

		if err := page.Context(navCtx).WaitLoad(); err != nil {
			mgr.cfg.Logger.Warn("domtab: wait load timeout", "url", pageURL, "error", err)
		}
	}

	return &Tab{
		Page:    page,
		PageURL: pageURL,
		PageID:  pageID,
		Role:    role,
		Stealth: level,
		manager: mgr,
	}, nil
}

// GetFullDOM serialises the complete DOM as HTML, inlining open shadow
// roots as declarative <template shadowrootmode> blocks where the
// browser supports it (getHTML), falling back to plain outerHTML
// otherwise. Used by the recorder to build the initial keyframe before
// diff-based tracking starts.
func (t *Tab) GetFullDOM(ctx context.Context) ([]byte, error) {
	res, err := t.Page.Context(ctx).Eval(`() => {
		const el = document.documentElement;
		if (typeof el.getHTML === "function") {
			return el.getHTML({ serializableShadowRoots: true });
		}
		return el.outerHTML;
	}`)
	if err != nil {
		return nil, fmt.Errorf("domtab: get DOM: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

// EnableDOMTracking forces a layout pass so CDP's DOM domain can see every
// node. Without it, mutations on deep or not-yet-laid-out nodes are
// silently ignored by the DOM domain.
func (t *Tab) EnableDOMTracking(ctx context.Context) error {
	_, err := t.Page.Context(ctx).Eval(`() => {
		document.documentElement.offsetHeight;
	}`)
	return err
}

// SetDocument replaces the target tab's document with the given HTML.
// Used by the player to materialise a keyframe before applying mutations.
func (t *Tab) SetDocument(ctx context.Context, html string) error {
	_, err := t.Page.Context(ctx).Eval(`(html) => {
		document.open();
		document.write(html);
		document.close();
	}`, html)
	if err != nil {
		return fmt.Errorf("domtab: set document: %w", err)
	}
	return nil
}

// CreateBlobURL materialises bytes as an in-page Blob and returns an
// object URL for it, implementing asset.Blobber over a live tab. Bytes
// are base64-transferred since Eval's arguments are JSON-encoded.
func (t *Tab) CreateBlobURL(ctx context.Context, data []byte, mime string) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(data)
	res, err := t.Page.Context(ctx).Eval(`(encoded, mime) => {
		const binary = atob(encoded);
		const bytes = new Uint8Array(binary.length);
		for (let i = 0; i < binary.length; i++) {
			bytes[i] = binary.charCodeAt(i);
		}
		const blob = new Blob([bytes], { type: mime || "application/octet-stream" });
		return URL.createObjectURL(blob);
	}`, encoded, mime)
	if err != nil {
		return "", fmt.Errorf("domtab: create blob url: %w", err)
	}
	return res.Value.Str(), nil
}

// RevokeBlobURL releases a previously created object URL.
func (t *Tab) RevokeBlobURL(ctx context.Context, url string) error {
	_, err := t.Page.Context(ctx).Eval(`(url) => { URL.revokeObjectURL(url); }`, url)
	if err != nil {
		return fmt.Errorf("domtab: revoke blob url: %w", err)
	}
	return nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
