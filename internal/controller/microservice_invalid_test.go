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

package controller

import (
	"context"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	appsv1alpha1 "github.com/platform-dev/microservice-operator/api/v1alpha1"
)

var _ = Describe("Invalid specs", func() {
	ctx := context.Background()

	It("should go Degraded without creating dependents and without requeueing", func() {
		name := uniqueName("bad")
		ms := newMicroservice(name, "default", func(m *appsv1alpha1.Microservice) {
			// Tier 2 allows 2-9 replicas.
			m.Spec.Replicas = ptr.To(int32(50))
		})
		r, c := newTestReconciler(ms)

		res, err := reconcileOnce(r, name, "default")
		Expect(err).NotTo(HaveOccurred(), "invalid specs are not retried as errors")
		Expect(res.RequeueAfter).To(BeZero())

		key := types.NamespacedName{Name: name, Namespace: "default"}
		getErr := c.Get(ctx, key, &appsv1.Deployment{})
		Expect(errors.IsNotFound(getErr)).To(BeTrue())

		got, err := fetchMicroservice(c, name, "default")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status.Phase).To(Equal(appsv1alpha1.PhaseDegraded))

		degraded := findCondition(got, ConditionTypeDegraded)
		Expect(degraded).NotTo(BeNil())
		Expect(degraded.Status).To(Equal(metav1.ConditionTrue))
		Expect(degraded.Reason).To(Equal(ReasonInvalidSpec))
		Expect(degraded.Message).To(ContainSubstring("replicas"))
	})

	It("should reject feature toggles below the feature tier", func() {
		name := uniqueName("lowtier")
		ms := newMicroservice(name, "default", func(m *appsv1alpha1.Microservice) {
			m.Spec.Tier = 1
			m.Spec.Replicas = nil
			m.Spec.Toggles = &appsv1alpha1.FeatureToggles{Ingress: ptr.To(true)}
		})
		r, c := newTestReconciler(ms)

		_, err := reconcileOnce(r, name, "default")
		Expect(err).NotTo(HaveOccurred())

		got, err := fetchMicroservice(c, name, "default")
		Expect(err).NotTo(HaveOccurred())
		degraded := findCondition(got, ConditionTypeDegraded)
		Expect(degraded.Reason).To(Equal(ReasonInvalidSpec))
		Expect(degraded.Message).To(ContainSubstring("ingress"))
	})

	It("should reject config keys that are not env-var identifiers", func() {
		name := uniqueName("badcfg")
		ms := newMicroservice(name, "default", func(m *appsv1alpha1.Microservice) {
			m.Spec.Config = map[string]string{"lower-case": "nope"}
		})
		r, c := newTestReconciler(ms)

		_, err := reconcileOnce(r, name, "default")
		Expect(err).NotTo(HaveOccurred())

		got, err := fetchMicroservice(c, name, "default")
		Expect(err).NotTo(HaveOccurred())
		degraded := findCondition(got, ConditionTypeDegraded)
		Expect(degraded.Reason).To(Equal(ReasonInvalidSpec))
		Expect(degraded.Message).To(ContainSubstring("config"))
	})

	It("should keep existing dependents running when the spec turns invalid", func() {
		name := uniqueName("wasfine")
		ms := newMicroservice(name, "default")
		r, c := newTestReconciler(ms)

		_, err := reconcileOnce(r, name, "default")
		Expect(err).NotTo(HaveOccurred())

		key := types.NamespacedName{Name: name, Namespace: "default"}
		dep := &appsv1.Deployment{}
		Expect(c.Get(ctx, key, dep)).To(Succeed())
		rvBefore := dep.ResourceVersion

		got, err := fetchMicroservice(c, name, "default")
		Expect(err).NotTo(HaveOccurred())
		got.Spec.Image = ""
		Expect(c.Update(ctx, got)).To(Succeed())

		_, err = reconcileOnce(r, name, "default")
		Expect(err).NotTo(HaveOccurred())

		// The Deployment keeps running under the last valid spec.
		Expect(c.Get(ctx, key, dep)).To(Succeed())
		Expect(dep.ResourceVersion).To(Equal(rvBefore))
		Expect(dep.Spec.Template.Spec.Containers[0].Image).To(Equal(ms.Spec.Image))

		got, err = fetchMicroservice(c, name, "default")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status.Phase).To(Equal(appsv1alpha1.PhaseDegraded))
	})

	It("should requeue immediately when the Degraded status write conflicts", func() {
		name := uniqueName("badrace")
		ms := newMicroservice(name, "default", func(m *appsv1alpha1.Microservice) {
			m.Spec.Replicas = ptr.To(int32(50))
		})

		// Conflict the first status write, as a concurrent update to the
		// Microservice would.
		conflicted := false
		funcs := interceptor.Funcs{
			SubResourceUpdate: func(ctx context.Context, c ctrlclient.Client, subResourceName string, obj ctrlclient.Object, opts ...ctrlclient.SubResourceUpdateOption) error {
				if _, isMS := obj.(*appsv1alpha1.Microservice); isMS && !conflicted {
					conflicted = true
					gr := schema.GroupResource{Group: appsv1alpha1.GroupVersion.Group, Resource: "microservices"}
					return errors.NewConflict(gr, name, fmt.Errorf("the object has been modified"))
				}
				return c.SubResource(subResourceName).Update(ctx, obj, opts...)
			},
		}
		r, c := newTestReconcilerWithInterceptors(funcs, ms)

		// A lost status write is retried right away instead of burning a
		// backoff slot on a spec that will never become valid by waiting.
		res, err := reconcileOnce(r, name, "default")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Requeue).To(BeTrue())

		res, err = reconcileOnce(r, name, "default")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Requeue).To(BeFalse())

		got, err := fetchMicroservice(c, name, "default")
		Expect(err).NotTo(HaveOccurred())
		degraded := findCondition(got, ConditionTypeDegraded)
		Expect(degraded.Reason).To(Equal(ReasonInvalidSpec))
	})

	It("should reject fixed replicas combined with autoscaling", func() {
		name := uniqueName("contradict")
		ms := newMicroservice(name, "default", func(m *appsv1alpha1.Microservice) {
			m.Spec.Toggles = &appsv1alpha1.FeatureToggles{Autoscaling: ptr.To(true)}
		})
		r, c := newTestReconciler(ms)

		_, err := reconcileOnce(r, name, "default")
		Expect(err).NotTo(HaveOccurred())

		got, err := fetchMicroservice(c, name, "default")
		Expect(err).NotTo(HaveOccurred())
		degraded := findCondition(got, ConditionTypeDegraded)
		Expect(degraded.Reason).To(Equal(ReasonInvalidSpec))
		Expect(degraded.Message).To(ContainSubstring("autoscaling"))
	})
})
