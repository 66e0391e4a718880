//go:build e2e
// +build e2e

/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package e2e

import (
	"fmt"
	"os/exec"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/platform-dev/microservice-operator/test/utils"
)

var _ = Describe("Microservice lifecycle", Ordered, func() {
	const testNS = "ms-e2e"

	microserviceYAML := fmt.Sprintf(`
apiVersion: apps.platform.dev/v1alpha1
kind: Microservice
metadata:
  name: orders
  namespace: %s
spec:
  image: nginx:1.27
  tier: 2
  replicas: 2
  team: payments
  config:
    LOG_LEVEL: info
  toggles:
    disruptionBudget: true
`, testNS)

	BeforeAll(func() {
		By("checking if CRDs are installed")
		cmd := exec.Command("kubectl", "get", "crd", "microservices.apps.platform.dev")
		_, err := utils.Run(cmd)
		if err != nil {
			By("installing CRDs")
			cmd = exec.Command("make", "install")
			_, err = utils.Run(cmd)
			Expect(err).NotTo(HaveOccurred(), "Failed to install CRDs")

			By("deploying the controller-manager")
			cmd = exec.Command("make", "deploy", fmt.Sprintf("IMG=%s", projectImage))
			_, err = utils.Run(cmd)
			Expect(err).NotTo(HaveOccurred(), "Failed to deploy the controller-manager")

			By("waiting for controller to be ready")
			Eventually(func() error {
				cmd := exec.Command("kubectl", "get", "deployment", "-n", namespace,
					"microservice-operator-controller-manager", "-o", "jsonpath={.status.readyReplicas}")
				output, err := utils.Run(cmd)
				if err != nil {
					return err
				}
				if output != "1" {
					return fmt.Errorf("controller not ready yet")
				}
				return nil
			}, 120*time.Second, 2*time.Second).Should(Succeed())
		}

		By("creating the test namespace")
		cmd = exec.Command("kubectl", "create", "ns", testNS)
		_, _ = utils.Run(cmd)
	})

	AfterAll(func() {
		By("cleaning up the test namespace")
		cmd := exec.Command("kubectl", "delete", "ns", testNS, "--ignore-not-found")
		_, _ = utils.Run(cmd)
	})

	It("should create the dependents and reach Running", func() {
		By("applying the Microservice")
		_, err := utils.ApplyManifest(microserviceYAML)
		Expect(err).NotTo(HaveOccurred())

		By("waiting for the Deployment to become available")
		Eventually(func() error {
			cmd := exec.Command("kubectl", "get", "deployment", "orders", "-n", testNS,
				"-o", "jsonpath={.status.readyReplicas}")
			output, err := utils.Run(cmd)
			if err != nil {
				return err
			}
			if output != "2" {
				return fmt.Errorf("want 2 ready replicas, got %q", output)
			}
			return nil
		}, 180*time.Second, 3*time.Second).Should(Succeed())

		By("checking the Service and ConfigMap exist")
		_, err = utils.Run(exec.Command("kubectl", "get", "service", "orders", "-n", testNS))
		Expect(err).NotTo(HaveOccurred())
		_, err = utils.Run(exec.Command("kubectl", "get", "configmap", "orders", "-n", testNS))
		Expect(err).NotTo(HaveOccurred())
		_, err = utils.Run(exec.Command("kubectl", "get", "pdb", "orders", "-n", testNS))
		Expect(err).NotTo(HaveOccurred())

		By("checking the phase reaches Running")
		Eventually(func() (string, error) {
			cmd := exec.Command("kubectl", "get", "microservice", "orders", "-n", testNS,
				"-o", "jsonpath={.status.phase}")
			return utils.Run(cmd)
		}, 60*time.Second, 2*time.Second).Should(Equal("Running"))
	})

	It("should scale the Deployment when replicas change", func() {
		By("patching spec.replicas")
		cmd := exec.Command("kubectl", "patch", "microservice", "orders", "-n", testNS,
			"--type=merge", "-p", `{"spec":{"replicas":4}}`)
		_, err := utils.Run(cmd)
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() (string, error) {
			cmd := exec.Command("kubectl", "get", "deployment", "orders", "-n", testNS,
				"-o", "jsonpath={.spec.replicas}")
			return utils.Run(cmd)
		}, 60*time.Second, 2*time.Second).Should(Equal("4"))
	})

	It("should revert manual drift on the Deployment", func() {
		By("tampering with the Deployment image")
		cmd := exec.Command("kubectl", "set", "image", "deployment/orders",
			"orders=tampered:latest", "-n", testNS)
		_, err := utils.Run(cmd)
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() (string, error) {
			cmd := exec.Command("kubectl", "get", "deployment", "orders", "-n", testNS,
				"-o", "jsonpath={.spec.template.spec.containers[0].image}")
			return utils.Run(cmd)
		}, 120*time.Second, 2*time.Second).Should(Equal("nginx:1.27"))
	})

	It("should remove the PodDisruptionBudget when its toggle turns off", func() {
		cmd := exec.Command("kubectl", "patch", "microservice", "orders", "-n", testNS,
			"--type=merge", "-p", `{"spec":{"toggles":{"disruptionBudget":false}}}`)
		_, err := utils.Run(cmd)
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() error {
			cmd := exec.Command("kubectl", "get", "pdb", "orders", "-n", testNS)
			_, err := utils.Run(cmd)
			if err == nil {
				return fmt.Errorf("pdb still exists")
			}
			return nil
		}, 60*time.Second, 2*time.Second).Should(Succeed())
	})

	It("should cascade deletion through owner references", func() {
		By("deleting the Microservice")
		cmd := exec.Command("kubectl", "delete", "microservice", "orders", "-n", testNS)
		_, err := utils.Run(cmd)
		Expect(err).NotTo(HaveOccurred())

		By("waiting for the dependents to be garbage collected")
		for _, kind := range []string{"deployment", "service", "configmap"} {
			Eventually(func() error {
				cmd := exec.Command("kubectl", "get", kind, "orders", "-n", testNS)
				_, err := utils.Run(cmd)
				if err == nil {
					return fmt.Errorf("%s still exists", kind)
				}
				return nil
			}, 120*time.Second, 2*time.Second).Should(Succeed(), kind)
		}
	})
})
