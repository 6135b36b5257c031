package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/anima-rhi/engine/assets/loaders"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

const shaderConfigExt = ".shadercfg"

type AssetInfo struct {
	Path       string
	Type       metadata.ResourceType
	LastLoaded time.Time
}

// AssetEvent reports a change to an indexed file.
type AssetEvent struct {
	Path    string
	Type    metadata.ResourceType
	Removed bool
}

type AssetManager struct {
	root    string
	assets  map[string]AssetInfo
	loaders map[metadata.ResourceType]Loader

	mutex sync.RWMutex

	subsMu      sync.Mutex
	subscribers []func(AssetEvent)

	done     chan struct{}
	wg       sync.WaitGroup
	fsnotify *fsnotify.Watcher
	isClosed bool
}

func NewAssetManager() (*AssetManager, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	am := &AssetManager{
		assets:   make(map[string]AssetInfo),
		loaders:  make(map[metadata.ResourceType]Loader),
		fsnotify: fsWatch,
		done:     make(chan struct{}),
	}
	am.registerLoader(metadata.ResourceTypeShader, &loaders.ShaderLoader{})
	am.registerLoader(metadata.ResourceTypeShaderSource, &loaders.BinaryLoader{})
	am.registerLoader(metadata.ResourceTypeShaderBinary, &loaders.BinaryLoader{})
	return am, nil
}

// Initialize indexes assetsDir and, when watch is set, keeps the index
// current and notifies subscribers of changes.
func (am *AssetManager) Initialize(assetsDir string, watch bool) error {
	am.root = filepath.Clean(assetsDir)
	if err := am.watchRecursive(am.root, watch); err != nil {
		return err
	}
	if watch {
		am.wg.Add(1)
		go am.start()
	}
	core.LogDebug("asset manager indexed %d files under '%s'", len(am.assets), am.root)
	return nil
}

// Subscribe registers fn to be called from the watcher goroutine.
func (am *AssetManager) Subscribe(fn func(AssetEvent)) {
	am.subsMu.Lock()
	am.subscribers = append(am.subscribers, fn)
	am.subsMu.Unlock()
}

// Register loaders for each asset type
func (am *AssetManager) registerLoader(assetType metadata.ResourceType, loader Loader) {
	am.loaders[assetType] = loader
}

// Assets returns the indexed paths of the given type, sorted.
func (am *AssetManager) Assets(resourceType metadata.ResourceType) []string {
	am.mutex.RLock()
	defer am.mutex.RUnlock()

	out := []string{}
	for path, info := range am.assets {
		if info.Type == resourceType {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// Resolve finds an indexed asset. Shaders may be named without directory or
// extension.
func (am *AssetManager) Resolve(name string, resourceType metadata.ResourceType) (string, error) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()

	if info, ok := am.assets[filepath.Clean(name)]; ok && info.Type == resourceType {
		return info.Path, nil
	}
	if resourceType == metadata.ResourceTypeShader {
		want := name + shaderConfigExt
		for path, info := range am.assets {
			if info.Type == resourceType && filepath.Base(path) == want {
				return path, nil
			}
		}
	}
	return "", fmt.Errorf("asset not found: %s (%s)", name, resourceType)
}

// Load an asset using the appropriate loader
func (am *AssetManager) LoadAsset(name string, resourceType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	path, err := am.Resolve(name, resourceType)
	if err != nil {
		return nil, err
	}

	loader, loaderExists := am.loaders[resourceType]
	if !loaderExists {
		return nil, fmt.Errorf("no loader registered for asset type: %s", resourceType)
	}

	res, err := loader.Load(path, resourceType, params)
	if err != nil {
		return nil, err
	}

	am.mutex.Lock()
	if asset, ok := am.assets[path]; ok {
		asset.LastLoaded = time.Now()
		am.assets[path] = asset
	}
	am.mutex.Unlock()
	return res, nil
}

func (am *AssetManager) UnloadAsset(asset *metadata.Resource) error {
	loader, ok := am.loaders[asset.Type]
	if !ok {
		return fmt.Errorf("no loader registered for asset type: %s", asset.Type)
	}
	return loader.Unload(asset)
}

// Shutdown stops the watcher. It is safe to call more than once.
func (am *AssetManager) Shutdown() error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return nil
	}
	am.isClosed = true
	am.mutex.Unlock()

	close(am.done)
	am.wg.Wait()
	return am.fsnotify.Close()
}

func (am *AssetManager) start() {
	defer am.wg.Done()
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			am.handleWatchEvent(e)

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)

		case <-am.done:
			return
		}
	}
}

func (am *AssetManager) handleWatchEvent(e fsnotify.Event) {
	path := filepath.Clean(e.Name)
	if s, err := os.Stat(path); err == nil && s.IsDir() {
		if e.Has(fsnotify.Create) {
			if err := am.watchRecursive(path, true); err != nil {
				core.LogWarn("asset watcher: %s", err)
			}
		}
		return
	}

	switch {
	case e.Has(fsnotify.Create) || e.Has(fsnotify.Write):
		if info, ok := am.handleFileEvent(path); ok {
			am.publish(AssetEvent{Path: path, Type: info.Type})
		}
	case e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename):
		// Can't stat a deleted path; unwatching a file that was never
		// watched only returns an error.
		_ = am.fsnotify.Remove(path)
		if info, ok := am.removeAsset(path); ok {
			am.publish(AssetEvent{Path: path, Type: info.Type, Removed: true})
		}
	}
}

func (am *AssetManager) publish(e AssetEvent) {
	am.subsMu.Lock()
	subs := append([]func(AssetEvent){}, am.subscribers...)
	am.subsMu.Unlock()

	for _, fn := range subs {
		fn(e)
	}
}

// watchRecursive indexes every file under path and, when watch is set, adds
// each directory to the watcher.
func (am *AssetManager) watchRecursive(path string, watch bool) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if strings.HasPrefix(fi.Name(), ".") && walkPath != path {
				return filepath.SkipDir
			}
			if watch {
				if err := am.fsnotify.Add(walkPath); err != nil {
					return fmt.Errorf("watch %s: %w", walkPath, err)
				}
			}
			return nil
		}
		am.handleFileEvent(filepath.Clean(walkPath))
		return nil
	})
}

// Handle the creation or modification of a file
func (am *AssetManager) handleFileEvent(path string) (AssetInfo, bool) {
	assetType := determineAssetType(path)
	if assetType == metadata.ResourceTypeNone {
		return AssetInfo{}, false
	}

	am.mutex.Lock()
	defer am.mutex.Unlock()
	info := AssetInfo{
		Path: path,
		Type: assetType,
	}
	am.assets[path] = info
	return info, true
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) (AssetInfo, bool) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	info, ok := am.assets[path]
	delete(am.assets, path)
	return info, ok
}

func determineAssetType(path string) metadata.ResourceType {
	switch strings.ToLower(filepath.Ext(path)) {
	case shaderConfigExt:
		return metadata.ResourceTypeShader
	case ".hlsl", ".hlsli", ".slang", ".glsl":
		return metadata.ResourceTypeShaderSource
	case ".spv", ".dxil", ".cso":
		return metadata.ResourceTypeShaderBinary
	default:
		return metadata.ResourceTypeNone
	}
}
