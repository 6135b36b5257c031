package vulkan

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

const spirvMagic = 0x07230203

// Hooks the platform window may provide. *platform.Platform implements all
// three on top of GLFW.
type (
	surfaceCreator interface {
		CreateWindowSurface(instance interface{}, allocator unsafe.Pointer) (uintptr, error)
	}
	extensionProvider interface {
		RequiredInstanceExtensions() []string
	}
	procAddrProvider interface {
		VulkanProcAddr() unsafe.Pointer
	}
)

type vulkanNative struct {
	locks *LockPool
	debug bool

	instance       vk.Instance
	debugCallback  vk.DebugReportCallback
	surface        vk.Surface
	physicalDevice vk.PhysicalDevice
	device         vk.Device
	graphicsQueue  uint32

	// Descriptor indexing features the device reports, enabled as-is at
	// device creation.
	indexing vk.PhysicalDeviceVulkan12Features

	props DeviceProperties
}

// Open creates the instance and logical device. It does not need a window;
// the surface is created later by CreateSurface.
func Open(desc metadata.BackendDescription) (Native, error) {
	n := &vulkanNative{
		locks: NewLockPool(),
		debug: desc.EnableValidation,
	}

	if p, ok := desc.PlatformWindow.Native.(procAddrProvider); ok && p.VulkanProcAddr() != nil {
		vk.SetGetInstanceProcAddr(p.VulkanProcAddr())
	} else if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return nil, &core.NativeError{API: "vulkan", Op: "load loader", Code: -1, Message: err.Error()}
	}
	if err := vk.Init(); err != nil {
		return nil, &core.NativeError{API: "vulkan", Op: "vkInit", Code: -1, Message: err.Error()}
	}

	if err := n.createInstance(desc.PlatformWindow); err != nil {
		return nil, err
	}
	if err := n.selectPhysicalDevice(); err != nil {
		n.Destroy()
		return nil, err
	}
	if err := n.createLogicalDevice(); err != nil {
		n.Destroy()
		return nil, err
	}
	return n, nil
}

func (n *vulkanNative) createInstance(window metadata.PlatformWindow) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 3, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString("Anima RHI"),
		PEngineName:        VulkanSafeString("Anima Engine"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := []string{}
	if p, ok := window.Native.(extensionProvider); ok {
		extensions = append(extensions, p.RequiredInstanceExtensions()...)
	}
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1
	}

	layers := []string{}
	if n.debug {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		found, err := hasInstanceLayer("VK_LAYER_KHRONOS_validation")
		if err != nil {
			return err
		}
		if found {
			layers = append(layers, "VK_LAYER_KHRONOS_validation")
		} else {
			core.LogWarn("validation requested but VK_LAYER_KHRONOS_validation is not installed")
		}
	}

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	err := n.locks.SafeCall(InstanceManagement, func() error {
		if res := vk.CreateInstance(&createInfo, nil, &n.instance); res != vk.Success {
			return nativeError("vkCreateInstance", res)
		}
		return vk.InitInstance(n.instance)
	})
	if err != nil {
		return err
	}
	core.LogDebug("Vulkan instance created with extensions %v", extensions)

	if n.debug {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		if res := vk.CreateDebugReportCallback(n.instance, &debugCreateInfo, nil, &n.debugCallback); res != vk.Success {
			core.LogWarn("vkCreateDebugReportCallback failed: %s", VulkanResultString(res, false))
		}
	}
	return nil
}

func hasInstanceLayer(name string) (bool, error) {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return false, nativeError("vkEnumerateInstanceLayerProperties", res)
	}
	layers := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, layers); res != vk.Success {
		return false, nativeError("vkEnumerateInstanceLayerProperties", res)
	}
	for i := range layers {
		layers[i].Deref()
		end := FindFirstZeroInByteArray(layers[i].LayerName[:])
		if vk.ToString(layers[i].LayerName[:end+1]) == name {
			return true, nil
		}
	}
	return false, nil
}

// selectPhysicalDevice picks the first discrete GPU with a graphics queue,
// falling back to any device with a graphics queue.
func (n *vulkanNative) selectPhysicalDevice() error {
	var count uint32
	if res := vk.EnumeratePhysicalDevices(n.instance, &count, nil); res != vk.Success {
		return nativeError("vkEnumeratePhysicalDevices", res)
	}
	if count == 0 {
		return &core.NativeError{API: "vulkan", Op: "vkEnumeratePhysicalDevices", Code: int64(vk.ErrorInitializationFailed), Message: "no devices which support Vulkan were found"}
	}
	devices := make([]vk.PhysicalDevice, count)
	if res := vk.EnumeratePhysicalDevices(n.instance, &count, devices); res != vk.Success {
		return nativeError("vkEnumeratePhysicalDevices", res)
	}

	selected := -1
	for i, pd := range devices {
		queue, ok := graphicsQueueFamily(pd)
		if !ok {
			continue
		}
		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &properties)
		properties.Deref()

		if selected < 0 || properties.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
			selected = i
			n.physicalDevice = pd
			n.graphicsQueue = queue
		}
		if properties.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
			break
		}
	}
	if selected < 0 {
		return &core.NativeError{API: "vulkan", Op: "select physical device", Code: int64(vk.ErrorFeatureNotPresent), Message: "no device exposes a graphics queue"}
	}

	n.props = queryProperties(n.physicalDevice)
	if v := vk.Version(n.props.APIVersion); v.Major() > 1 || (v.Major() == 1 && v.Minor() >= 2) {
		n.indexing = queryIndexingFeatures(n.physicalDevice)
	}
	n.props.DescriptorIndexing = n.indexing.DescriptorBindingPartiallyBound == vk.True &&
		n.indexing.RuntimeDescriptorArray == vk.True
	return nil
}

// queryIndexingFeatures reads the Vulkan 1.2 feature block. The driver
// writes through the PNext chain straight into the returned struct.
func queryIndexingFeatures(pd vk.PhysicalDevice) vk.PhysicalDeviceVulkan12Features {
	supported := vk.PhysicalDeviceVulkan12Features{
		SType: vk.StructureTypePhysicalDeviceVulkan12Features,
	}
	features := vk.PhysicalDeviceFeatures2{
		SType: vk.StructureTypePhysicalDeviceFeatures2,
		PNext: unsafe.Pointer(&supported),
	}
	vk.GetPhysicalDeviceFeatures2(pd, &features)

	return vk.PhysicalDeviceVulkan12Features{
		SType:                                      vk.StructureTypePhysicalDeviceVulkan12Features,
		DescriptorIndexing:                         supported.DescriptorIndexing,
		DescriptorBindingPartiallyBound:            supported.DescriptorBindingPartiallyBound,
		RuntimeDescriptorArray:                     supported.RuntimeDescriptorArray,
		ShaderSampledImageArrayNonUniformIndexing:  supported.ShaderSampledImageArrayNonUniformIndexing,
		ShaderStorageImageArrayNonUniformIndexing:  supported.ShaderStorageImageArrayNonUniformIndexing,
		ShaderStorageBufferArrayNonUniformIndexing: supported.ShaderStorageBufferArrayNonUniformIndexing,
	}
}

func graphicsQueueFamily(pd vk.PhysicalDevice) (uint32, bool) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, families)
	for i := range families {
		families[i].Deref()
		if families[i].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			return uint32(i), true
		}
	}
	return 0, false
}

func queryProperties(pd vk.PhysicalDevice) DeviceProperties {
	var properties vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(pd, &properties)
	properties.Deref()
	properties.Limits.Deref()
	limits := properties.Limits

	end := FindFirstZeroInByteArray(properties.DeviceName[:])
	props := DeviceProperties{
		Name:       vk.ToString(properties.DeviceName[:end+1]),
		APIVersion: properties.ApiVersion,
	}
	// Tables are never updated after bind, so the plain per-set limits apply.
	props.DescriptorLimits[metadata.DescriptorTypeSampler] = limits.MaxDescriptorSetSamplers
	props.DescriptorLimits[metadata.DescriptorTypeTexture] = limits.MaxDescriptorSetSampledImages
	props.DescriptorLimits[metadata.DescriptorTypeRWTexture] = limits.MaxDescriptorSetStorageImages
	props.DescriptorLimits[metadata.DescriptorTypeBuffer] = limits.MaxDescriptorSetStorageBuffers
	props.DescriptorLimits[metadata.DescriptorTypeRWBuffer] = limits.MaxDescriptorSetStorageBuffers

	extensions := deviceExtensions(pd)
	props.MeshShader = extensions["VK_EXT_mesh_shader"]
	props.RayTracing = extensions["VK_KHR_ray_tracing_pipeline"]
	return props
}

func deviceExtensions(pd vk.PhysicalDevice) map[string]bool {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(pd, "", &count, nil); res != vk.Success {
		return nil
	}
	props := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(pd, "", &count, props); res != vk.Success {
		return nil
	}
	out := make(map[string]bool, count)
	for i := range props {
		props[i].Deref()
		end := FindFirstZeroInByteArray(props[i].ExtensionName[:])
		out[string(props[i].ExtensionName[:end])] = true
	}
	return out
}

func (n *vulkanNative) createLogicalDevice() error {
	extensions := []string{}
	available := deviceExtensions(n.physicalDevice)
	if available[vk.KhrSwapchainExtensionName] {
		extensions = append(extensions, vk.KhrSwapchainExtensionName)
	}
	if available["VK_KHR_portability_subset"] {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensions = append(extensions, "VK_KHR_portability_subset")
	}

	queueInfo := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: n.graphicsQueue,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}
	createInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfo)),
		PQueueCreateInfos:       queueInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensions),
	}
	if n.props.DescriptorIndexing {
		createInfo.PNext = unsafe.Pointer(&n.indexing)
	} else {
		core.LogWarn("device '%s' lacks descriptor indexing, bindless sets are unavailable", n.props.Name)
	}

	return n.locks.SafeCall(DeviceManagement, func() error {
		if res := vk.CreateDevice(n.physicalDevice, &createInfo, nil, &n.device); res != vk.Success {
			return nativeError("vkCreateDevice", res)
		}
		core.LogInfo("Logical device created.")
		return nil
	})
}

func (n *vulkanNative) Properties() DeviceProperties {
	return n.props
}

func (n *vulkanNative) CreateSurface(window metadata.PlatformWindow) error {
	creator, ok := window.Native.(surfaceCreator)
	if !ok {
		return fmt.Errorf("platform window cannot create a Vulkan surface")
	}
	return n.locks.SafeCall(SwapchainManagement, func() error {
		if n.surface != vk.NullSurface {
			vk.DestroySurface(n.instance, n.surface, nil)
			n.surface = vk.NullSurface
		}
		surface, err := creator.CreateWindowSurface(n.instance, nil)
		if err != nil {
			return &core.NativeError{API: "vulkan", Op: "create window surface", Code: int64(vk.ErrorInitializationFailed), Message: err.Error()}
		}
		n.surface = vk.SurfaceFromPointer(surface)
		core.LogDebug("Vulkan surface created.")
		return nil
	})
}

type descriptorTable struct {
	native *vulkanNative
	pool   vk.DescriptorPool
	layout vk.DescriptorSetLayout
	set    vk.DescriptorSet
}

func (n *vulkanNative) CreateDescriptorTable(bindings []TableBinding) (DescriptorTable, error) {
	layoutBindings := make([]vk.DescriptorSetLayoutBinding, 0, len(bindings))
	poolSizes := make([]vk.DescriptorPoolSize, 0, len(bindings))
	bindingFlags := make([]vk.DescriptorBindingFlags, 0, len(bindings))
	partial := false
	for _, b := range bindings {
		if b.Count == 0 {
			continue
		}
		var flags vk.DescriptorBindingFlags
		if b.PartiallyBound {
			flags |= vk.DescriptorBindingFlags(vk.DescriptorBindingPartiallyBoundBit)
			partial = true
		}
		bindingFlags = append(bindingFlags, flags)
		layoutBindings = append(layoutBindings, vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  b.Type,
			DescriptorCount: b.Count,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageAll),
		})
		poolSizes = append(poolSizes, vk.DescriptorPoolSize{
			Type:            b.Type,
			DescriptorCount: b.Count,
		})
	}

	t := &descriptorTable{native: n}
	err := n.locks.SafeCall(DescriptorManagement, func() error {
		poolInfo := vk.DescriptorPoolCreateInfo{
			SType:         vk.StructureTypeDescriptorPoolCreateInfo,
			MaxSets:       1,
			PoolSizeCount: uint32(len(poolSizes)),
			PPoolSizes:    poolSizes,
		}
		if res := vk.CreateDescriptorPool(n.device, &poolInfo, nil, &t.pool); res != vk.Success {
			return nativeError("vkCreateDescriptorPool", res)
		}

		layoutInfo := vk.DescriptorSetLayoutCreateInfo{
			SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
			BindingCount: uint32(len(layoutBindings)),
			PBindings:    layoutBindings,
		}
		if partial {
			// The chained struct holds a slice, so it goes through its C
			// copy rather than a raw Go pointer.
			flagsInfo := vk.DescriptorSetLayoutBindingFlagsCreateInfo{
				SType:         vk.StructureTypeDescriptorSetLayoutBindingFlagsCreateInfo,
				BindingCount:  uint32(len(bindingFlags)),
				PBindingFlags: bindingFlags,
			}
			ref, _ := flagsInfo.PassRef()
			defer flagsInfo.Free()
			layoutInfo.PNext = unsafe.Pointer(ref)
		}
		if res := vk.CreateDescriptorSetLayout(n.device, &layoutInfo, nil, &t.layout); res != vk.Success {
			vk.DestroyDescriptorPool(n.device, t.pool, nil)
			return nativeError("vkCreateDescriptorSetLayout", res)
		}

		allocInfo := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     t.pool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{t.layout},
		}
		if res := vk.AllocateDescriptorSets(n.device, &allocInfo, &t.set); res != vk.Success {
			vk.DestroyDescriptorSetLayout(n.device, t.layout, nil)
			vk.DestroyDescriptorPool(n.device, t.pool, nil)
			return nativeError("vkAllocateDescriptorSets", res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (t *descriptorTable) Destroy() {
	n := t.native
	_ = n.locks.SafeCall(DescriptorManagement, func() error {
		// Destroying the pool frees the set.
		vk.DestroyDescriptorPool(n.device, t.pool, nil)
		vk.DestroyDescriptorSetLayout(n.device, t.layout, nil)
		return nil
	})
}

type shaderModule struct {
	native *vulkanNative
	handle vk.ShaderModule
}

func (n *vulkanNative) CreateShaderModule(code []byte) (NativeShaderModule, error) {
	if len(code) < 4 || len(code)%4 != 0 {
		return nil, fmt.Errorf("SPIR-V size %d is not a multiple of 4", len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("bytecode is not SPIR-V (magic %#08x)", words[0])
	}

	m := &shaderModule{native: n}
	err := n.locks.SafeCall(ShaderManagement, func() error {
		createInfo := vk.ShaderModuleCreateInfo{
			SType:    vk.StructureTypeShaderModuleCreateInfo,
			CodeSize: uint64(len(code)),
			PCode:    words,
		}
		if res := vk.CreateShaderModule(n.device, &createInfo, nil, &m.handle); res != vk.Success {
			return nativeError("vkCreateShaderModule", res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *shaderModule) Destroy() {
	n := m.native
	_ = n.locks.SafeCall(ShaderManagement, func() error {
		vk.DestroyShaderModule(n.device, m.handle, nil)
		return nil
	})
}

// Destroy tears down in the opposite order of creation.
func (n *vulkanNative) Destroy() {
	if n.device != nil {
		vk.DeviceWaitIdle(n.device)
		core.LogDebug("Destroying Vulkan device...")
		vk.DestroyDevice(n.device, nil)
		n.device = nil
	}
	if n.surface != vk.NullSurface {
		core.LogDebug("Destroying Vulkan surface...")
		vk.DestroySurface(n.instance, n.surface, nil)
		n.surface = vk.NullSurface
	}
	if n.debugCallback != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(n.instance, n.debugCallback, nil)
		n.debugCallback = vk.NullDebugReportCallback
	}
	if n.instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(n.instance, nil)
		n.instance = nil
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
