package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/llm-d/llm-d-state-helper/api/v1alpha1"
)

const (
	totalCores   = 4
	startTimeout = 30 * time.Second
	timeout      = 10 * time.Second
	interval     = 100 * time.Millisecond
)

// daemon is one running state-helper process.
type daemon struct {
	cmd       *exec.Cmd
	sysfs     string
	stateFile string
	baseURL   string
	logs      *bytes.Buffer
}

// fakeSysfs lays out present cores 0..n-1, cpu0 without an online file the
// way most kernels expose it.
func fakeSysfs(root string, n int) {
	Expect(os.WriteFile(filepath.Join(root, "present"), []byte(fmt.Sprintf("0-%d\n", n-1)), 0644)).To(Succeed())
	for id := 0; id < n; id++ {
		dir := filepath.Join(root, fmt.Sprintf("cpu%d", id))
		Expect(os.MkdirAll(dir, os.ModePerm)).To(Succeed())
		if id == 0 {
			continue
		}
		Expect(os.WriteFile(filepath.Join(dir, "online"), []byte("1\n"), 0644)).To(Succeed())
	}
}

func freeAddress() string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	defer func() {
		_ = l.Close()
	}()
	return l.Addr().String()
}

func startDaemon(extraArgs ...string) *daemon {
	dir := GinkgoT().TempDir()
	d := &daemon{
		sysfs:     filepath.Join(dir, "cpu"),
		stateFile: filepath.Join(dir, "run", "power-state"),
		logs:      &bytes.Buffer{},
	}
	Expect(os.MkdirAll(d.sysfs, os.ModePerm)).To(Succeed())
	Expect(os.MkdirAll(filepath.Dir(d.stateFile), os.ModePerm)).To(Succeed())
	Expect(os.WriteFile(d.stateFile, []byte("active\n"), 0644)).To(Succeed())
	fakeSysfs(d.sysfs, totalCores)

	addr := freeAddress()
	d.baseURL = "http://" + addr
	args := append([]string{
		"run",
		"--backend", "sysfs",
		"--sysfs-root", d.sysfs,
		"--state-file", d.stateFile,
		"--listen-address", addr,
	}, extraArgs...)
	d.cmd = exec.Command(binaryPath, args...)
	d.cmd.Stdout = d.logs
	d.cmd.Stderr = d.logs
	Expect(d.cmd.Start()).To(Succeed())

	Eventually(func(g Gomega) {
		resp, err := http.Get(d.baseURL + "/readyz")
		g.Expect(err).NotTo(HaveOccurred())
		defer func() {
			_ = resp.Body.Close()
		}()
		g.Expect(resp.StatusCode).To(Equal(http.StatusOK))
	}, startTimeout, interval).Should(Succeed())
	return d
}

func (d *daemon) stop() {
	if d.cmd.Process == nil {
		return
	}
	_ = d.cmd.Process.Signal(os.Interrupt)
	done := make(chan error, 1)
	go func() { done <- d.cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(timeout):
		_ = d.cmd.Process.Kill()
		<-done
	}
	if CurrentSpecReport().Failed() {
		_, _ = fmt.Fprintf(GinkgoWriter, "=== state-helper logs ===\n%s\n", d.logs.String())
	}
}

func (d *daemon) setPowerState(state string) {
	tmp := d.stateFile + ".tmp"
	Expect(os.WriteFile(tmp, []byte(state+"\n"), 0644)).To(Succeed())
	Expect(os.Rename(tmp, d.stateFile)).To(Succeed())
}

// online returns the hotpluggable cores whose online file reads 1.
func (d *daemon) online() []int {
	ids := []int{0}
	for id := 1; id < totalCores; id++ {
		data, err := os.ReadFile(filepath.Join(d.sysfs, fmt.Sprintf("cpu%d", id), "online"))
		Expect(err).NotTo(HaveOccurred())
		if strings.TrimSpace(string(data)) == "1" {
			ids = append(ids, id)
		}
	}
	return ids
}

func (d *daemon) attribute(name string) (int, string) {
	resp, err := http.Get(d.baseURL + "/attributes/state_helper/" + name)
	Expect(err).NotTo(HaveOccurred())
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp.StatusCode, string(body)
}

func (d *daemon) store(name, value string) int {
	req, err := http.NewRequest(http.MethodPut, d.baseURL+"/attributes/state_helper/"+name, strings.NewReader(value))
	Expect(err).NotTo(HaveOccurred())
	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer func() {
		_ = resp.Body.Close()
	}()
	return resp.StatusCode
}

func (d *daemon) status() *v1alpha1.StateHelper {
	resp, err := http.Get(d.baseURL + "/status")
	Expect(err).NotTo(HaveOccurred())
	defer func() {
		_ = resp.Body.Close()
	}()
	Expect(resp.StatusCode).To(Equal(http.StatusOK))
	sh := &v1alpha1.StateHelper{}
	Expect(json.NewDecoder(resp.Body).Decode(sh)).To(Succeed())
	return sh
}

var _ = Describe("state-helper daemon", func() {
	var d *daemon

	AfterEach(func() {
		if d != nil {
			d.stop()
			d = nil
		}
	})

	It("should start disabled with every core online", func() {
		d = startDaemon()
		code, body := d.attribute("enabled")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(Equal("0\n"))

		_, body = d.attribute("max_active_cores")
		Expect(body).To(Equal(fmt.Sprintf("%d\n", totalCores)))

		d.setPowerState("suspended")
		Consistently(d.online, time.Second, interval).Should(Equal([]int{0, 1, 2, 3}))
	})

	It("should follow the power state once enabled", func() {
		d = startDaemon()
		Expect(d.store("enabled", "1\n")).To(Equal(http.StatusOK))

		By("suspending the device")
		d.setPowerState("suspended")
		Eventually(d.online, timeout, interval).Should(Equal([]int{0}))

		By("resuming the device")
		d.setPowerState("active")
		Eventually(d.online, timeout, interval).Should(Equal([]int{0, 1, 2, 3}))

		By("lowering the ceiling")
		Expect(d.store("max_active_cores", "2")).To(Equal(http.StatusOK))
		Eventually(d.online, timeout, interval).Should(Equal([]int{0, 3}))

		sh := d.status()
		Expect(sh.Spec.Enabled).To(BeTrue())
		Expect(sh.Status.Online).To(Equal("0,3"))
		Expect(sh.Status.LastReconcile).NotTo(BeNil())

		By("disabling the policy")
		Expect(d.store("enabled", "0")).To(Equal(http.StatusOK))
		Eventually(d.online, timeout, interval).Should(Equal([]int{0, 1, 2, 3}))
	})

	It("should reject invalid attribute writes", func() {
		d = startDaemon()
		Expect(d.store("max_active_cores", "0")).To(Equal(http.StatusBadRequest))
		Expect(d.store("max_active_cores", fmt.Sprintf("%d", totalCores+1))).To(Equal(http.StatusBadRequest))
		Expect(d.store("enabled", "yes")).To(Equal(http.StatusBadRequest))
		Expect(d.store("governor", "1")).To(Equal(http.StatusNotFound))

		_, body := d.attribute("max_active_cores")
		Expect(body).To(Equal(fmt.Sprintf("%d\n", totalCores)))
	})

	It("should apply the initial policy from flags", func() {
		d = startDaemon("--enabled", "--max-active-cores", "3", "--suspend-floor", "2")
		Eventually(d.online, timeout, interval).Should(Equal([]int{0, 2, 3}))

		d.setPowerState("suspended")
		Eventually(d.online, timeout, interval).Should(Equal([]int{0, 3}))
	})

	It("should restore every core on shutdown", func() {
		d = startDaemon("--enabled")
		d.setPowerState("suspended")
		Eventually(d.online, timeout, interval).Should(Equal([]int{0}))

		d.stop()
		Expect(d.online()).To(Equal([]int{0, 1, 2, 3}))
		d = nil
	})
})
