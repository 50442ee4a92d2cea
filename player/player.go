// Package player implements the DomPlayer (§6's consumer contract): it
// reads a recorder's binary frame stream, materializes the keyframe into
// a target tab, and replays every subsequent structural and stylesheet
// operation against it via mutator and stylemutate, resolving asset
// placeholders through asset.Manager as Asset frames arrive.
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/domrec/asset"
	"github.com/hazyhaar/domrec/domtab"
	"github.com/hazyhaar/domrec/mutator"
	"github.com/hazyhaar/domrec/nodeid"
	"github.com/hazyhaar/domrec/stylemutate"
	"github.com/hazyhaar/domrec/wire"
)

// Player drives one target tab from a recorded frame stream.
type Player struct {
	cfg    Config
	logger *slog.Logger

	mgr *domtab.Manager
	tab *domtab.Tab

	ids    *nodeid.Map
	assets *asset.Manager
	mut    *mutator.Mutator
	styles *stylemutate.Mutator

	keyframeSeen  bool
	pendingAssets int
}

// New creates a Player. Call Start before Play.
func New(cfg Config) *Player {
	cfg.defaults()
	return &Player{cfg: cfg, logger: cfg.Logger}
}

// Start launches (or attaches to) a browser and opens a blank target tab,
// ready to receive a keyframe.
func (p *Player) Start(ctx context.Context) error {
	p.mgr = domtab.NewManager(p.cfg.Browser)
	if _, err := p.mgr.Start(ctx); err != nil {
		return fmt.Errorf("player: start browser: %w", err)
	}

	tab, err := domtab.OpenTab(ctx, p.mgr, domtab.RoleTarget, "", p.cfg.PageID, domtab.LevelHeadless)
	if err != nil {
		p.mgr.Close()
		return fmt.Errorf("player: open target tab: %w", err)
	}
	p.tab = tab

	p.ids = nodeid.New()
	p.assets = asset.NewManager(tab, p.logger)
	p.mut = mutator.New(p.ids, tab, p.assets, p.logger)
	p.styles = stylemutate.New(tab, p.assets, p.cfg.StyleSheet)
	if err := p.styles.Start(ctx); err != nil {
		return fmt.Errorf("player: start stylesheet mutator: %w", err)
	}
	return nil
}

// Stop closes the target tab and its browser.
func (p *Player) Stop() {
	if p.tab != nil {
		p.tab.Close()
	}
	if p.mgr != nil {
		p.mgr.Close()
	}
}

// Play reads a full recording from r, dispatching every frame against the
// target tab until r is exhausted or ctx is canceled. A frame that decodes
// but fails to apply is logged and skipped, never aborting playback
// (mirrors mutator.Apply's per-operation failure isolation, §4.6, §7). A
// frame that fails to decode ends playback with an error; a truncated
// frame at the end of r is treated as the end of the stream.
func (p *Player) Play(ctx context.Context, r io.Reader) error {
	if err := wire.ReadMagic(r); err != nil {
		return fmt.Errorf("player: read magic: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := wire.ReadFrame(r)
		if errors.Is(err, wire.ErrBufferUnderflow) {
			// A clean end of stream looks identical to mid-frame
			// truncation in this codec (ReadFrame's own doc comment);
			// Play treats both as "nothing more to play".
			return nil
		}
		if err != nil {
			return fmt.Errorf("player: read frame: %w", err)
		}
		if err := p.handleFrame(ctx, frame); err != nil {
			p.logger.Warn("player: frame handling failed", "tag", frame.Tag, "error", err)
		}
	}
}

func (p *Player) handleFrame(ctx context.Context, f wire.Frame) error {
	switch payload := f.Payload.(type) {
	case wire.KeyframePayload:
		return p.handleKeyframe(ctx, payload)
	case wire.AssetPayload:
		p.pendingAssets--
		if err := p.assets.Resolve(ctx, payload.ID, payload.Bytes, payload.Mime, payload.URL); err != nil {
			return err
		}
		if p.pendingAssets <= 0 {
			p.logger.Debug("player: all outstanding assets resolved", "assetId", payload.ID)
		}
		return nil
	case wire.DomNodeAddedPayload:
		p.pendingAssets += payload.AssetCount
		p.mut.Apply(ctx, []wire.Operation{{
			Kind:     wire.OpInsert,
			ParentID: payload.ParentID,
			Index:    payload.Index,
			Node:     &payload.Node,
		}})
		return nil
	case wire.DomNodeRemovedPayload:
		p.mut.Apply(ctx, []wire.Operation{{Kind: wire.OpRemove, NodeID: payload.NodeID}})
		return nil
	case wire.DomAttributeChangedPayload:
		p.mut.Apply(ctx, []wire.Operation{{
			Kind: wire.OpUpdateAttribute, NodeID: payload.NodeID, Name: payload.Name, Value: payload.Value,
		}})
		return nil
	case wire.DomAttributeRemovedPayload:
		p.mut.Apply(ctx, []wire.Operation{{Kind: wire.OpRemoveAttribute, NodeID: payload.NodeID, Name: payload.Name}})
		return nil
	case wire.DomTextChangedPayload:
		p.mut.Apply(ctx, []wire.Operation{{
			Kind: wire.OpUpdateText, NodeID: payload.NodeID, Edits: wire.FromWireEdits(payload.Edits),
		}})
		return nil
	case wire.StyleSheetChangedPayload:
		return p.styles.Apply(ctx, payload.Op)
	case wire.TimestampPayload, wire.ViewportResizedPayload, wire.ScrollOffsetChangedPayload, wire.DomNodeResizedPayload:
		// Reserved for a host transport adapter to interleave its own
		// signals (frame.go's tag 15 doc comment) — the recorder never
		// produces these, so there is nothing core to apply here.
		return nil
	default:
		return fmt.Errorf("player: unhandled payload type %T", payload)
	}
}

// handleKeyframe materializes the keyframe's document into the target
// tab with a single document.write, then seeds the mutator's mirror
// tree so subsequent operations can locate their targets, and finally
// recreates any adopted stylesheets the document already had attached
// when recording began (recorder.SeedAdopted's counterpart) so that a
// later StyleSheetChanged op targeting one of those ids has somewhere
// to land.
func (p *Player) handleKeyframe(ctx context.Context, kf wire.KeyframePayload) error {
	if p.keyframeSeen {
		return fmt.Errorf("player: duplicate keyframe")
	}
	html, err := p.mut.MaterializeDocument(ctx, &kf.Document)
	if err != nil {
		return fmt.Errorf("player: materialize keyframe: %w", err)
	}
	if err := p.tab.SetDocument(ctx, html); err != nil {
		return fmt.Errorf("player: write keyframe document: %w", err)
	}
	if err := p.seedAdoptedStyleSheets(ctx, kf.Document); err != nil {
		return fmt.Errorf("player: seed adopted stylesheets: %w", err)
	}
	p.keyframeSeen = true
	p.pendingAssets = kf.AssetCount
	return nil
}

// seedAdoptedStyleSheets materializes every adopted (constructed)
// stylesheet the keyframe's document carried, then attaches them to the
// document's adoptedStyleSheets list in recorded order — mirroring what
// styletrack.js's sheet-added/adopted-list-changed pair does live for a
// sheet adopted after tracking begins.
func (p *Player) seedAdoptedStyleSheets(ctx context.Context, doc wire.Document) error {
	if len(doc.AdoptedStyleSheets) == 0 {
		return nil
	}
	ids := make([]int, 0, len(doc.AdoptedStyleSheets))
	for _, ref := range doc.AdoptedStyleSheets {
		op := wire.SheetOp{Kind: wire.SheetAdded, SheetID: ref.ID, Adopted: true, Text: ref.Text}
		if err := p.styles.Apply(ctx, op); err != nil {
			return fmt.Errorf("create adopted sheet %d: %w", ref.ID, err)
		}
		ids = append(ids, ref.ID)
	}

	rootID, ok := documentElementID(doc)
	if !ok {
		// A fragment keyframe with no element root has nothing for
		// adoptedStyleSheets to attach to.
		return nil
	}
	return p.styles.Apply(ctx, wire.SheetOp{
		Kind:             wire.SheetAdoptedListChanged,
		DocumentOrRootID: rootID,
		SheetIDs:         ids,
	})
}

// documentElementID returns the recording id of the document's top-level
// element (its "html" node), the id styletrack.js's rootId names for the
// document-level adoptedStyleSheets setter.
func documentElementID(doc wire.Document) (int, bool) {
	for _, c := range doc.Children {
		if c.Kind == wire.KindElement {
			return c.ID, true
		}
	}
	return 0, false
}
