package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/llm-d/llm-d-state-helper/api/v1alpha1"
	"github.com/llm-d/llm-d-state-helper/internal/attributes"
	"github.com/llm-d/llm-d-state-helper/internal/config"
	"github.com/llm-d/llm-d-state-helper/internal/cores"
	"github.com/llm-d/llm-d-state-helper/internal/debounce"
	"github.com/llm-d/llm-d-state-helper/internal/statewatch"
)

const (
	eventuallyTimeout = 2 * time.Second
	pollInterval      = 10 * time.Millisecond
)

type failingWatcher struct{}

func (failingWatcher) State() statewatch.PowerState { return statewatch.Active }

func (failingWatcher) Subscribe(statewatch.Listener) (statewatch.CancelFunc, error) {
	return nil, errors.New("watch unavailable")
}

// blockingCores holds every deactivation until release is closed.
type blockingCores struct {
	*cores.SimulatedManager
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingCores) Deactivate(id int) error {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.SimulatedManager.Deactivate(id)
}

type harness struct {
	cores    *cores.SimulatedManager
	policy   *config.PolicyConfig
	state    *statewatch.Broadcaster
	registry *attributes.Registry
}

func newHarness(total int, defaults config.Policy) *harness {
	mgr, err := cores.NewSimulatedManager(total)
	Expect(err).NotTo(HaveOccurred())
	policy, err := config.NewPolicyConfig(total, defaults)
	Expect(err).NotTo(HaveOccurred())
	return &harness{
		cores:    mgr,
		policy:   policy,
		state:    statewatch.NewBroadcaster(statewatch.Active),
		registry: attributes.NewRegistry(),
	}
}

func (h *harness) options() Options {
	return Options{Cores: h.cores, Policy: h.policy, Watcher: h.state, Attributes: h.registry}
}

func (h *harness) onlineCores() func() []int {
	return func() []int { return h.cores.OnlineCores() }
}

var _ = Describe("Controller", func() {
	var (
		ctx context.Context
		h   *harness
		c   *Controller
	)

	BeforeEach(func() {
		ctx = context.Background()
		h = newHarness(4, config.DefaultPolicy(4))
	})

	AfterEach(func() {
		if c != nil {
			c.Close()
			c = nil
		}
	})

	Context("construction", func() {
		It("should reject missing collaborators", func() {
			_, err := New(ctx, Options{Cores: h.cores, Policy: h.policy})
			Expect(err).To(HaveOccurred())
		})

		It("should register the attribute group and stay idle when disabled", func() {
			var err error
			c, err = New(ctx, h.options())
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Running()).To(BeFalse())

			Expect(h.registry.Values()).To(Equal(map[string]map[string]string{
				GroupName: {
					config.AttrEnabled:        "0",
					config.AttrMaxActiveCores: "4",
					config.AttrDiagnostics:    "1",
				},
			}))
			ready := c.Condition(v1alpha1.TypeReady)
			Expect(ready).NotTo(BeNil())
			Expect(ready.Status).To(Equal(metav1.ConditionFalse))
			Expect(ready.Reason).To(Equal(v1alpha1.ReasonDisabled))
		})

		It("should reset the tunables to their defaults", func() {
			_, err := h.policy.SetMaxActiveCores(2)
			Expect(err).NotTo(HaveOccurred())

			c, err = New(ctx, h.options())
			Expect(err).NotTo(HaveOccurred())
			Expect(h.policy.MaxActiveCores()).To(Equal(4))
		})

		It("should start immediately when enabled by default", func() {
			h = newHarness(4, config.Policy{Enabled: true, MaxActiveCores: 4, Diagnostics: true})
			h.state.Set(statewatch.Suspended)

			var err error
			c, err = New(ctx, h.options())
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Running()).To(BeTrue())
			Eventually(h.onlineCores(), eventuallyTimeout, pollInterval).Should(Equal([]int{0}))
		})

		It("should refuse a second controller on the same registry", func() {
			var err error
			c, err = New(ctx, h.options())
			Expect(err).NotTo(HaveOccurred())

			_, err = New(ctx, h.options())
			Expect(err).To(HaveOccurred())
		})
	})

	Context("power-state events", func() {
		BeforeEach(func() {
			var err error
			c, err = New(ctx, h.options())
			Expect(err).NotTo(HaveOccurred())
		})

		It("should follow suspend and resume while enabled", func() {
			Expect(c.SetEnabled(1)).To(Succeed())
			Expect(c.Running()).To(BeTrue())
			Expect(h.state.Subscribers()).To(Equal(1))

			h.state.Set(statewatch.Suspended)
			Eventually(h.onlineCores(), eventuallyTimeout, pollInterval).Should(Equal([]int{0}))

			h.state.Set(statewatch.Active)
			Eventually(h.onlineCores(), eventuallyTimeout, pollInterval).Should(Equal([]int{0, 1, 2, 3}))

			Eventually(func() metav1.ConditionStatus {
				cond := c.Condition(v1alpha1.TypeTargetAchieved)
				if cond == nil {
					return metav1.ConditionUnknown
				}
				return cond.Status
			}, eventuallyTimeout, pollInterval).Should(Equal(metav1.ConditionTrue))
		})

		It("should ignore events while disabled", func() {
			h.state.Set(statewatch.Suspended)
			Consistently(h.onlineCores(), 200*time.Millisecond, pollInterval).Should(Equal([]int{0, 1, 2, 3}))
			Expect(h.state.Subscribers()).To(BeZero())
		})

		It("should restore every core when disabled", func() {
			Expect(c.SetEnabled(1)).To(Succeed())
			h.state.Set(statewatch.Suspended)
			Eventually(h.onlineCores(), eventuallyTimeout, pollInterval).Should(Equal([]int{0}))

			Expect(c.SetEnabled(0)).To(Succeed())
			Expect(h.cores.OnlineCores()).To(Equal([]int{0, 1, 2, 3}))
			Expect(c.Running()).To(BeFalse())
			Expect(h.state.Subscribers()).To(BeZero())

			h.state.Set(statewatch.Suspended)
			Consistently(h.onlineCores(), 200*time.Millisecond, pollInterval).Should(Equal([]int{0, 1, 2, 3}))
		})

		It("should treat an unchanged enabled value as a no-op", func() {
			Expect(c.SetEnabled(0)).To(Succeed())
			Expect(c.Running()).To(BeFalse())
			Expect(c.SetEnabled(1)).To(Succeed())
			Expect(c.SetEnabled(1)).To(Succeed())
			Expect(h.state.Subscribers()).To(Equal(1))
		})
	})

	Context("tunable writes", func() {
		BeforeEach(func() {
			h = newHarness(8, config.DefaultPolicy(8))
			var err error
			c, err = New(ctx, h.options())
			Expect(err).NotTo(HaveOccurred())
		})

		It("should apply a lower ceiling while enabled", func() {
			Expect(c.SetEnabled(1)).To(Succeed())
			Expect(c.SetMaxActiveCores(3)).To(Succeed())
			Eventually(h.onlineCores(), eventuallyTimeout, pollInterval).Should(Equal([]int{0, 6, 7}))
		})

		It("should only record the ceiling while disabled", func() {
			Expect(c.SetMaxActiveCores(3)).To(Succeed())
			Consistently(h.onlineCores(), 200*time.Millisecond, pollInterval).Should(HaveLen(8))
			Expect(h.policy.MaxActiveCores()).To(Equal(3))
		})

		It("should reject out-of-range values without changing anything", func() {
			var validationErr *config.ValidationError
			Expect(errors.As(c.SetMaxActiveCores(0), &validationErr)).To(BeTrue())
			Expect(validationErr.Field).To(Equal(config.AttrMaxActiveCores))
			Expect(c.SetMaxActiveCores(9)).To(HaveOccurred())
			Expect(c.SetEnabled(2)).To(HaveOccurred())
			Expect(c.SetDiagnostics(5)).To(HaveOccurred())

			Expect(h.policy.Snapshot()).To(Equal(config.DefaultPolicy(8)))
			Expect(c.Running()).To(BeFalse())
		})

		It("should accept writes through the attribute group", func() {
			Expect(h.registry.Store(GroupName, config.AttrEnabled, "1\n")).To(Succeed())
			Expect(c.Running()).To(BeTrue())
			Expect(h.registry.Store(GroupName, config.AttrMaxActiveCores, " 2 ")).To(Succeed())
			Expect(h.registry.Store(GroupName, config.AttrDiagnostics, "0")).To(Succeed())
			Eventually(h.onlineCores(), eventuallyTimeout, pollInterval).Should(Equal([]int{0, 7}))

			Expect(h.registry.Show(GroupName, config.AttrMaxActiveCores)).To(Equal("2"))
			Expect(h.registry.Show(GroupName, config.AttrDiagnostics)).To(Equal("0"))
			Expect(h.registry.Store(GroupName, config.AttrMaxActiveCores, "-1")).To(HaveOccurred())
			Expect(h.registry.Store(GroupName, config.AttrMaxActiveCores, "x")).To(HaveOccurred())
		})
	})

	Context("start failures", func() {
		It("should disable the policy when the queue cannot be allocated", func() {
			orig := newQueueFunc
			DeferCleanup(func() { newQueueFunc = orig })
			newQueueFunc = func(string, debounce.Task) (*debounce.Queue, error) {
				return nil, errors.New("out of memory")
			}

			var err error
			c, err = New(ctx, h.options())
			Expect(err).NotTo(HaveOccurred())

			err = c.SetEnabled(1)
			var allocErr *AllocationError
			Expect(errors.As(err, &allocErr)).To(BeTrue())
			Expect(allocErr.Resource).To(Equal("reconcile queue"))
			Expect(h.policy.Enabled()).To(BeFalse())
			Expect(c.Running()).To(BeFalse())
			Expect(h.state.Subscribers()).To(BeZero())
			Expect(c.ReadyCheck(nil)).To(HaveOccurred())
			Expect(c.Condition(v1alpha1.TypeReady).Reason).To(Equal(v1alpha1.ReasonAllocationFailed))

			newQueueFunc = orig
			Expect(c.SetEnabled(1)).To(Succeed())
			Expect(c.ReadyCheck(nil)).To(Succeed())
		})

		It("should release the queue when the subscription fails", func() {
			opts := h.options()
			opts.Watcher = failingWatcher{}
			var err error
			c, err = New(ctx, opts)
			Expect(err).NotTo(HaveOccurred())

			err = c.SetEnabled(1)
			var allocErr *AllocationError
			Expect(errors.As(err, &allocErr)).To(BeTrue())
			Expect(allocErr.Resource).To(Equal("power-state subscription"))
			Expect(h.policy.Enabled()).To(BeFalse())
			Expect(c.Running()).To(BeFalse())
		})

		It("should return the controller disabled when the default start fails", func() {
			h = newHarness(4, config.Policy{Enabled: true})
			opts := h.options()
			opts.Watcher = failingWatcher{}

			var err error
			c, err = New(ctx, opts)
			Expect(err).To(HaveOccurred())
			Expect(c).NotTo(BeNil())
			Expect(h.policy.Enabled()).To(BeFalse())
		})
	})

	Context("shutdown", func() {
		It("should let a running reconcile finish before restoring cores", func() {
			blocking := &blockingCores{
				SimulatedManager: h.cores,
				entered:          make(chan struct{}),
				release:          make(chan struct{}),
			}
			opts := h.options()
			opts.Cores = blocking

			var err error
			c, err = New(ctx, opts)
			Expect(err).NotTo(HaveOccurred())
			h.state.Set(statewatch.Suspended)
			Expect(c.SetEnabled(1)).To(Succeed())
			Eventually(blocking.entered, eventuallyTimeout).Should(BeClosed())

			stopped := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				Expect(c.SetEnabled(0)).To(Succeed())
				close(stopped)
			}()
			Consistently(stopped, 100*time.Millisecond).ShouldNot(BeClosed())

			close(blocking.release)
			Eventually(stopped, eventuallyTimeout).Should(BeClosed())
			Expect(h.cores.OnlineCores()).To(Equal([]int{0, 1, 2, 3}))
		})

		It("should stop, restore and unregister on Close", func() {
			var err error
			c, err = New(ctx, h.options())
			Expect(err).NotTo(HaveOccurred())
			Expect(c.SetEnabled(1)).To(Succeed())
			h.state.Set(statewatch.Suspended)
			Eventually(h.onlineCores(), eventuallyTimeout, pollInterval).Should(Equal([]int{0}))

			c.Close()
			c.Close()
			Expect(h.cores.OnlineCores()).To(Equal([]int{0, 1, 2, 3}))
			Expect(h.registry.Groups()).To(BeEmpty())
			Expect(h.state.Subscribers()).To(BeZero())
			before := h.policy.Snapshot()
			Expect(c.SetEnabled(1)).To(MatchError(ErrClosed))
			Expect(c.SetMaxActiveCores(2)).To(MatchError(ErrClosed))
			Expect(c.SetDiagnostics(0)).To(MatchError(ErrClosed))
			Expect(h.policy.Snapshot()).To(Equal(before))
			Expect(h.cores.OnlineCores()).To(Equal([]int{0, 1, 2, 3}))
		})
	})

	Context("status", func() {
		It("should report live cores, the last reconcile and conditions", func() {
			h = newHarness(8, config.Policy{Enabled: true, MaxActiveCores: 3, Diagnostics: true})
			var err error
			c, err = New(ctx, h.options())
			Expect(err).NotTo(HaveOccurred())
			Eventually(h.onlineCores(), eventuallyTimeout, pollInterval).Should(Equal([]int{0, 6, 7}))

			var sh *v1alpha1.StateHelper
			Eventually(func() *v1alpha1.ReconcileStatus {
				sh, err = c.Status()
				Expect(err).NotTo(HaveOccurred())
				return sh.Status.LastReconcile
			}, eventuallyTimeout, pollInterval).ShouldNot(BeNil())

			Expect(sh.Spec.Enabled).To(BeTrue())
			Expect(sh.Spec.MaxActiveCores).To(Equal(int32(3)))
			Expect(sh.Spec.SuspendFloor).To(Equal(int32(1)))
			Expect(sh.Status.PowerState).To(Equal("active"))
			Expect(sh.Status.TotalCores).To(Equal(int32(8)))
			Expect(sh.Status.ActiveCores).To(Equal(int32(3)))
			Expect(sh.Status.Online).To(Equal("0,6-7"))
			Expect(sh.Status.Cores).To(HaveLen(8))
			Expect(sh.Status.LastReconcile.Deactivated).To(Equal([]int32{1, 2, 3, 4, 5}))
		})

		It("should serve the status document over HTTP", func() {
			gin.SetMode(gin.TestMode)
			var err error
			c, err = New(ctx, h.options())
			Expect(err).NotTo(HaveOccurred())

			router := gin.New()
			c.RegisterRoutes(router)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
			Expect(w.Code).To(Equal(http.StatusOK))

			var sh v1alpha1.StateHelper
			Expect(json.Unmarshal(w.Body.Bytes(), &sh)).To(Succeed())
			Expect(sh.Kind).To(Equal(v1alpha1.Kind))
			Expect(sh.Status.Online).To(Equal("0-3"))
			Expect(sh.Status.LastReconcile).To(BeNil())
		})
	})
})
